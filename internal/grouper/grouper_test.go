package grouper

import (
	"reflect"
	"testing"
	"time"

	"github.com/SWORDIntel/spectra/internal/gateway"
)

func fileMsg(id, sender int64, name string) gateway.Message {
	return gateway.Message{
		ID:       id,
		SenderID: sender,
		Date:     time.Unix(1700000000+id, 0).UTC(),
		File:     &gateway.FileInfo{ID: id, Name: name, Size: 10},
	}
}

func groupIDs(groups []Group) [][]int64 {
	out := make([][]int64, 0, len(groups))
	for _, g := range groups {
		ids := make([]int64, 0, len(g.Messages))
		for _, m := range g.Messages {
			ids = append(ids, m.ID)
		}
		out = append(out, ids)
	}
	return out
}

func TestParseFilenameForGrouping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filename string
		want     filenameParts
	}{
		{
			name:     "underscorePart",
			filename: "archive_part1.rar",
			want:     filenameParts{base: "archive", ext: ".rar", partNum: 1},
		},
		{
			name:     "dotPart",
			filename: "backup.part12.zip",
			want:     filenameParts{base: "backup", ext: ".zip", partNum: 12},
		},
		{
			name:     "parenPart",
			filename: "report (3).pdf",
			want:     filenameParts{base: "report", ext: ".pdf", partNum: 3},
		},
		{
			name:     "bareNumericSuffix",
			filename: "dump.001.7z",
			want:     filenameParts{base: "dump", ext: ".7z", partNum: 1},
		},
		{
			name:     "underscoreNumericSuffix",
			filename: "vol_2.bin",
			want:     filenameParts{base: "vol", ext: ".bin", partNum: 2},
		},
		{
			name:     "multiDotExtension",
			filename: "sources_part2.tar.gz",
			want:     filenameParts{base: "sources", ext: ".tar.gz", partNum: 2},
		},
		{
			name:     "caseInsensitivePart",
			filename: "DATA_PART3.RAR",
			want:     filenameParts{base: "DATA", ext: ".RAR", partNum: 3},
		},
		{
			name:     "standalonePartToken",
			filename: "_part1.ext",
			want:     filenameParts{base: "_part1.ext", ext: ".ext", partNum: 0},
		},
		{
			name:     "noExtension",
			filename: "README",
			want:     filenameParts{base: "README", ext: "", partNum: 0},
		},
		{
			name:     "noExtensionWithPart",
			filename: "chunks_part4",
			want:     filenameParts{base: "chunks", ext: "", partNum: 4},
		},
		{
			name:     "nonNumericSuffixIsNotAPart",
			filename: "notes_final.txt",
			want:     filenameParts{base: "notes_final", ext: ".txt", partNum: 0},
		},
		{
			name:     "plainName",
			filename: "movie.mkv",
			want:     filenameParts{base: "movie", ext: ".mkv", partNum: 0},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := parseFilenameForGrouping(tc.filename)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseFilenameForGrouping(%q) = %+v, want %+v", tc.filename, got, tc.want)
			}
		})
	}
}

func TestGroupByFilenameParts(t *testing.T) {
	t.Parallel()

	msgs := []gateway.Message{
		fileMsg(1, 7, "a_part1.rar"),
		fileMsg(2, 7, "a_part2.rar"),
		fileMsg(3, 7, "b.pdf"),
		fileMsg(4, 7, "a_part3.rar"),
		fileMsg(5, 7, "c.zip"),
	}

	got := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
	want := [][]int64{{1, 2, 4}, {3}, {5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupMessages() groups = %v, want %v", got, want)
	}
}

func TestGroupByFilenamePartOrderBeatsMessageOrder(t *testing.T) {
	t.Parallel()

	// Части пришли не по порядку: итоговая группа обязана отсортироваться по номеру.
	msgs := []gateway.Message{
		fileMsg(10, 1, "x_part3.rar"),
		fileMsg(11, 1, "x_part1.rar"),
		fileMsg(12, 1, "x_part2.rar"),
	}

	got := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
	want := [][]int64{{11, 12, 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupMessages() groups = %v, want %v", got, want)
	}
}

func TestGroupByFilenameDifferentSendersDoNotMix(t *testing.T) {
	t.Parallel()

	msgs := []gateway.Message{
		fileMsg(1, 100, "a_part1.rar"),
		fileMsg(2, 200, "a_part2.rar"),
	}

	got := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
	want := [][]int64{{1}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupMessages() groups = %v, want %v", got, want)
	}
}

func TestGroupByFilenameMessagesWithoutFilesAreLone(t *testing.T) {
	t.Parallel()

	noFile := gateway.Message{ID: 2, SenderID: 7, Date: time.Unix(1700000002, 0).UTC(), Text: "hi"}
	msgs := []gateway.Message{
		fileMsg(1, 7, "a_part1.rar"),
		noFile,
		fileMsg(3, 7, "a_part2.rar"),
	}

	got := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
	want := [][]int64{{1, 3}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupMessages() groups = %v, want %v", got, want)
	}
}

func TestGroupByTime(t *testing.T) {
	t.Parallel()

	at := func(id, sender, sec int64) gateway.Message {
		return gateway.Message{ID: id, SenderID: sender, Date: time.Unix(sec, 0).UTC()}
	}

	cases := []struct {
		name       string
		msgs       []gateway.Message
		window     int64
		sameSender bool
		want       [][]int64
	}{
		{
			name:   "gapSplits",
			msgs:   []gateway.Message{at(1, 1, 0), at(2, 1, 5), at(3, 1, 100)},
			window: 10, sameSender: false,
			want: [][]int64{{1, 2}, {3}},
		},
		{
			name:   "senderChangeSplits",
			msgs:   []gateway.Message{at(1, 1, 0), at(2, 2, 1), at(3, 2, 2)},
			window: 10, sameSender: true,
			want: [][]int64{{1}, {2, 3}},
		},
		{
			name:   "senderIgnoredWhenDisabled",
			msgs:   []gateway.Message{at(1, 1, 0), at(2, 2, 1)},
			window: 10, sameSender: false,
			want: [][]int64{{1, 2}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := groupIDs(GroupMessages(tc.msgs, StrategyTime, tc.window, tc.sameSender))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("GroupMessages() groups = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGroupNoneIsIdentity(t *testing.T) {
	t.Parallel()

	msgs := []gateway.Message{fileMsg(1, 1, "a.bin"), fileMsg(2, 1, "b.bin")}
	got := groupIDs(GroupMessages(msgs, StrategyNone, 0, false))
	want := [][]int64{{1}, {2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupMessages() groups = %v, want %v", got, want)
	}
}

func TestGroupingIsDeterministic(t *testing.T) {
	t.Parallel()

	msgs := []gateway.Message{
		fileMsg(1, 1, "a_part2.rar"),
		fileMsg(2, 2, "z.doc"),
		fileMsg(3, 1, "a_part1.rar"),
		fileMsg(4, 3, "q_part1.7z"),
		fileMsg(5, 3, "q_part2.7z"),
	}

	first := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
	for range 10 {
		again := groupIDs(GroupMessages(msgs, StrategyFilename, 0, false))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("GroupMessages() is not deterministic: %v vs %v", first, again)
		}
	}

	// Итоговый список групп отсортирован по id первого сообщения.
	for i := 1; i < len(first); i++ {
		if first[i-1][0] > first[i][0] {
			t.Fatalf("groups are not ordered by first id: %v", first)
		}
	}
}
