// Перечисление диалогов: пагинация MessagesGetDialogs по тройке (offset_date,
// offset_id, offset_peer). Карты access_hash накапливаются между страницами, чтобы
// всегда можно было собрать следующий offset_peer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gotd/td/tg"
)

const (
	dialogPageLimit  = 100
	dialogZeroOffset = 0
)

var errDialogsNotModified = errors.New("gateway: dialogs not modified")

// DialogEntity — один перечисленный диалог; из них индексатор доступа собирает
// строки channel_access.
type DialogEntity struct {
	ChannelID   int64
	Title       string
	AccessHash  int64
	IsChannel   bool
	IsBroadcast bool
	IsMegagroup bool
}

// IterDialogs перечисляет все видимые аккаунту диалоги, пока сервер не отдаст
// короткую страницу или MessagesDialogsNotModified.
func (g *Gateway) IterDialogs(ctx context.Context) ([]DialogEntity, error) {
	offsetDate := dialogZeroOffset
	offsetID := dialogZeroOffset
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	var out []DialogEntity
	seen := make(map[int64]struct{})

	for {
		resp, err := g.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: list dialogs: %w", classifyRPCError(err, 0))
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				break
			}
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			break
		}

		updateHashesFromDialogBatch(batch, userHashes, channelHashes)
		for _, chat := range batch.Chats {
			if ch, ok := chat.(*tg.Channel); ok {
				if _, dup := seen[ch.ID]; dup {
					continue
				}
				seen[ch.ID] = struct{}{}
				out = append(out, DialogEntity{
					ChannelID:   ch.ID,
					Title:       ch.Title,
					AccessHash:  ch.AccessHash,
					IsChannel:   true,
					IsBroadcast: ch.Broadcast,
					IsMegagroup: ch.Megagroup,
				})
			}
		}

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevDate, prevID := offsetDate, offsetID
		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = dialogMessageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInputPeer(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = dialogMessageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInputPeer(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}
		if offsetDate == dialogZeroOffset {
			offsetDate = prevDate
		}
		if offsetID == dialogZeroOffset {
			offsetID = prevID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogPageLimit {
			break
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(300*time.Millisecond + rand.N(600*time.Millisecond)):
		}
	}

	return out, nil
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{Dialogs: data.Dialogs, Messages: data.Messages, Chats: data.Chats, Users: data.Users}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("gateway: unexpected dialogs response %T", resp)
	}
}

func updateHashesFromDialogBatch(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, u := range batch.Users {
		if user, ok := u.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, c := range batch.Chats {
		if ch, ok := c.(*tg.Channel); ok {
			channelHashes[ch.ID] = ch.AccessHash
		}
	}
}

func dialogMessageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch m := msg.(type) {
		case *tg.Message:
			if m.ID == id {
				return m.Date
			}
		case *tg.MessageService:
			if m.ID == id {
				return m.Date
			}
		}
	}
	return dialogZeroOffset
}

func dialogPeerToInputPeer(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: p.UserID, AccessHash: userHashes[p.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: channelHashes[p.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}
