package gateway

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
)

func TestClassifyRPCError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rpcType string
		arg     int
		check   func(t *testing.T, err error)
	}{
		{
			name: "floodWait", rpcType: "FLOOD_WAIT", arg: 17,
			check: func(t *testing.T, err error) {
				var fw *FloodWaitError
				if !errors.As(err, &fw) || fw.Seconds != 17 {
					t.Fatalf("err = %v, want FloodWaitError{17}", err)
				}
			},
		},
		{
			name: "adminRequired", rpcType: "CHAT_ADMIN_REQUIRED",
			check: func(t *testing.T, err error) {
				var e *ChatAdminRequiredError
				if !errors.As(err, &e) || e.ChannelID != 99 {
					t.Fatalf("err = %v, want ChatAdminRequiredError{99}", err)
				}
			},
		},
		{
			name: "channelPrivate", rpcType: "CHANNEL_PRIVATE",
			check: func(t *testing.T, err error) {
				var e *ChannelPrivateError
				if !errors.As(err, &e) {
					t.Fatalf("err = %v, want ChannelPrivateError", err)
				}
			},
		},
		{
			name: "userBanned", rpcType: "USER_BANNED_IN_CHANNEL",
			check: func(t *testing.T, err error) {
				var e *UserBannedError
				if !errors.As(err, &e) {
					t.Fatalf("err = %v, want UserBannedError", err)
				}
			},
		},
		{
			name: "topicClosed", rpcType: "TOPIC_CLOSED",
			check: func(t *testing.T, err error) {
				var e *TopicClosedError
				if !errors.As(err, &e) {
					t.Fatalf("err = %v, want TopicClosedError", err)
				}
			},
		},
		{
			name: "deleteForbidden", rpcType: "MESSAGE_DELETE_FORBIDDEN",
			check: func(t *testing.T, err error) {
				var e *DeleteForbiddenError
				if !errors.As(err, &e) {
					t.Fatalf("err = %v, want DeleteForbiddenError", err)
				}
			},
		},
		{
			name: "timeoutIsTransient", rpcType: "TIMEOUT",
			check: func(t *testing.T, err error) {
				var e *TransientError
				if !errors.As(err, &e) {
					t.Fatalf("err = %v, want TransientError", err)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := &tgerr.Error{Code: 400, Type: tc.rpcType, Argument: tc.arg}
			tc.check(t, classifyRPCError(fmt.Errorf("rpc: %w", raw), 99))
		})
	}
}

func TestClassifyRPCErrorPassesUnknownThrough(t *testing.T) {
	t.Parallel()

	plain := errors.New("something else")
	if got := classifyRPCError(plain, 1); got != plain {
		t.Fatalf("classifyRPCError() = %v, want original error", got)
	}
	if got := classifyRPCError(nil, 1); got != nil {
		t.Fatalf("classifyRPCError(nil) = %v, want nil", got)
	}
}

func TestFloodWaitExtractor(t *testing.T) {
	t.Parallel()

	ex := FloodWaitExtractor()

	wait, ok := ex(&FloodWaitError{Seconds: 5})
	if !ok || wait < 5*time.Second {
		t.Fatalf("extract(FloodWaitError{5}) = (%v, %v), want >= 5s", wait, ok)
	}

	wrapped := fmt.Errorf("send: %w", &FloodWaitError{Seconds: 2})
	if _, ok := ex(wrapped); !ok {
		t.Fatal("wrapped FloodWaitError must be recognized")
	}

	if _, ok := ex(errors.New("other")); ok {
		t.Fatal("unrelated error must not be recognized")
	}
	if _, ok := ex(nil); ok {
		t.Fatal("nil must not be recognized")
	}
}

func TestPermissionErrorsStopRetries(t *testing.T) {
	t.Parallel()

	stoppers := []interface{ StopRetry() bool }{
		&ChannelPrivateError{ChannelID: 1},
		&ChatAdminRequiredError{ChannelID: 1},
		&UserBannedError{ChannelID: 1},
		&AuthError{Account: "a"},
		&TopicDeletedError{ChannelID: 1},
		&DeleteForbiddenError{ChannelID: 1},
	}
	for _, s := range stoppers {
		if !s.StopRetry() {
			t.Fatalf("%T must stop retries", s)
		}
	}
}
