// Операции Gateway поверх RPC-поверхности gotd/td: разрешение сущностей, итерация
// истории, отправка/пересылка, скачивание медиа и работа с топиками форумов.
package gateway

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/SWORDIntel/spectra/internal/infra/logger"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// ResolveEntity разрешает числовой id канала/чата в Entity.
func (g *Gateway) ResolveEntity(ctx context.Context, id int64) (Entity, error) {
	p, err := g.peers.ResolveChannel(ctx, id)
	if err != nil {
		return Entity{}, &ChannelPrivateError{ChannelID: id}
	}
	return Entity{ID: id, Title: p.VisibleName(), Kind: "channel"}, nil
}

// IterMessages возвращает одноразовый конечный поток сообщений entity; при
// opts.Reverse порядок по возрастанию id. История листается страницами по 100
// через messages.getHistory, от новых к старым, смещаясь по MaxID.
func (g *Gateway) IterMessages(ctx context.Context, entity Entity, opts IterOptions) ([]Message, error) {
	peer, err := g.peers.ResolveChannel(ctx, entity.ID)
	if err != nil {
		return nil, &ChannelPrivateError{ChannelID: entity.ID}
	}

	const pageLimit = 100
	var out []Message
	maxID := 0

page:
	for {
		req := &tg.MessagesGetHistoryRequest{Peer: peer.InputPeer(), Limit: pageLimit}
		if maxID > 0 {
			req.MaxID = maxID
		}
		history, err := g.api.MessagesGetHistory(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("gateway: iterate history: %w", classifyRPCError(err, entity.ID))
		}

		raw := historyMessages(history)
		if len(raw) == 0 {
			break
		}

		for _, msgClass := range raw {
			m, ok := toMessage(msgClass)
			if !ok {
				continue
			}
			if maxID == 0 || int(m.ID) < maxID {
				maxID = int(m.ID)
			}
			// Страницы идут от новых к старым: пересекли нижнюю границу — дальше листать нечего.
			if opts.MinID != 0 && m.ID < opts.MinID {
				break page
			}
			if opts.MediaOnly && m.File == nil && m.Media == nil {
				continue
			}
			if opts.TopicID != 0 && (m.ReplyTo == nil || m.ReplyTo.TopicID != opts.TopicID) {
				continue
			}
			out = append(out, m)
		}

		if len(raw) < pageLimit {
			break
		}
	}

	if opts.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func historyMessages(history tg.MessagesMessagesClass) []tg.MessageClass {
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages
	case *tg.MessagesMessages:
		return h.Messages
	case *tg.MessagesMessagesSlice:
		return h.Messages
	default:
		return nil
	}
}

func toMessage(raw tg.MessageClass) (Message, bool) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return Message{}, false
	}
	out := Message{
		ID:   int64(msg.ID),
		Date: time.Unix(int64(msg.Date), 0).UTC(),
		Text: msg.Message,
	}
	if from, ok := msg.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			out.SenderID = u.UserID
		}
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if rh, ok := reply.(*tg.MessageReplyHeader); ok {
			ri := &ReplyInfo{MessageID: int64(rh.ReplyToMsgID)}
			if topic, ok := rh.GetReplyToTopID(); ok {
				ri.TopicID = int64(topic)
			}
			out.ReplyTo = ri
		}
	}
	if media, ok := msg.GetMedia(); ok {
		out.File, out.Media = extractMedia(media)
	}
	return out, true
}

func extractMedia(media tg.MessageMediaClass) (*FileInfo, *MediaInfo) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil, &MediaInfo{Kind: "document"}
		}
		fi := &FileInfo{ID: doc.ID, AccessHash: doc.AccessHash, FileReference: doc.FileReference, Size: doc.Size, MIME: doc.MimeType}
		mi := &MediaInfo{Kind: "document", Attrs: map[string]string{}}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeFilename:
				fi.Name = a.FileName
			case *tg.DocumentAttributeVideo:
				mi.Kind = "video"
				mi.Attrs["duration"] = strconv.Itoa(int(a.Duration))
				mi.Attrs["width"] = strconv.Itoa(a.W)
				mi.Attrs["height"] = strconv.Itoa(a.H)
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					mi.Kind = "voice"
				} else {
					mi.Kind = "audio"
				}
				mi.Attrs["duration"] = strconv.Itoa(a.Duration)
			case *tg.DocumentAttributeSticker:
				mi.Kind = "sticker"
			case *tg.DocumentAttributeAnimated:
				mi.Kind = "animation"
			case *tg.DocumentAttributeImageSize:
				mi.Attrs["width"] = strconv.Itoa(a.W)
				mi.Attrs["height"] = strconv.Itoa(a.H)
			}
		}
		return fi, mi
	case *tg.MessageMediaPhoto:
		return nil, &MediaInfo{Kind: "photo"}
	case *tg.MessageMediaContact:
		return nil, &MediaInfo{Kind: "contact"}
	case *tg.MessageMediaGeo, *tg.MessageMediaVenue:
		return nil, &MediaInfo{Kind: "location"}
	case *tg.MessageMediaPoll:
		return nil, &MediaInfo{Kind: "poll"}
	case *tg.MessageMediaGame:
		return nil, &MediaInfo{Kind: "game"}
	case *tg.MessageMediaWebPage:
		return nil, &MediaInfo{Kind: "webpage"}
	default:
		return nil, &MediaInfo{Kind: "unknown"}
	}
}

// GetMessage забирает одно сообщение по id — воркер очереди перечитывает им
// отложенное сообщение перед пересылкой.
func (g *Gateway) GetMessage(ctx context.Context, entity Entity, id int64) (Message, error) {
	peer, err := g.peers.ResolveChannel(ctx, entity.ID)
	if err != nil {
		return Message{}, &ChannelPrivateError{ChannelID: entity.ID}
	}

	res, err := g.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: peer.InputChannel(),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(id)}},
	})
	if err != nil {
		return Message{}, classifyRPCError(err, entity.ID)
	}

	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	}
	for _, m := range raw {
		if msg, ok := toMessage(m); ok && msg.ID == id {
			return msg, nil
		}
	}
	return Message{}, fmt.Errorf("gateway: message %d not found in %d", id, entity.ID)
}

// SendMessage отправляет текстовое сообщение в dest, опционально ответом в топик
// (ответ в top message топика и есть доставка в топик). RandomID обеспечивает
// идемпотентность ретраев.
func (g *Gateway) SendMessage(ctx context.Context, dest int64, body string, replyTo int64) (MessageRef, error) {
	peer, err := g.peers.ResolveChannel(ctx, dest)
	if err != nil {
		return MessageRef{}, &ChannelPrivateError{ChannelID: dest}
	}

	req := &tg.MessagesSendMessageRequest{
		Peer:     peer.InputPeer(),
		Message:  body,
		RandomID: rand.Int64(),
	}
	if replyTo != 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: int(replyTo)}
	}
	if _, err := g.api.MessagesSendMessage(ctx, req); err != nil {
		return MessageRef{}, classifyRPCError(err, dest)
	}
	return MessageRef{ChannelID: dest}, nil
}

// ForwardMessages пересылает messageIDs из fromEntity в dest, опционально в топик.
// На каждый исходный id генерируется свой random_id для идемпотентности ретраев.
func (g *Gateway) ForwardMessages(ctx context.Context, dest int64, fromEntity Entity, messageIDs []int64, replyTo int64) ([]MessageRef, error) {
	fromPeer, err := g.peers.ResolveChannel(ctx, fromEntity.ID)
	if err != nil {
		return nil, &ChannelPrivateError{ChannelID: fromEntity.ID}
	}
	toPeer, err := g.peers.ResolveChannel(ctx, dest)
	if err != nil {
		return nil, &ChannelPrivateError{ChannelID: dest}
	}

	if err := g.forwardRaw(ctx, fromPeer.InputPeer(), toPeer.InputPeer(), messageIDs, replyTo, dest); err != nil {
		return nil, err
	}

	refs := make([]MessageRef, len(messageIDs))
	for i := range refs {
		refs[i] = MessageRef{ChannelID: dest}
	}
	return refs, nil
}

func (g *Gateway) forwardRaw(ctx context.Context, fromPeer, toPeer tg.InputPeerClass, messageIDs []int64, topMsgID, destForErr int64) error {
	ids := make([]int, len(messageIDs))
	randomIDs := make([]int64, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
		randomIDs[i] = rand.Int64()
	}

	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: fromPeer,
		ID:       ids,
		RandomID: randomIDs,
		ToPeer:   toPeer,
	}
	if topMsgID != 0 {
		req.SetTopMsgID(int(topMsgID))
	}
	if _, err := g.api.MessagesForwardMessages(ctx, req); err != nil {
		return classifyRPCError(err, destForErr)
	}
	return nil
}

// ForwardToSelf пересылает messageIDs в «Избранное» этого аккаунта (резервный fan-out).
func (g *Gateway) ForwardToSelf(ctx context.Context, fromEntity Entity, messageIDs []int64) ([]MessageRef, error) {
	fromPeer, err := g.peers.ResolveChannel(ctx, fromEntity.ID)
	if err != nil {
		return nil, &ChannelPrivateError{ChannelID: fromEntity.ID}
	}

	if err := g.forwardRaw(ctx, fromPeer.InputPeer(), &tg.InputPeerSelf{}, messageIDs, 0, 0); err != nil {
		return nil, err
	}
	return make([]MessageRef, len(messageIDs)), nil
}

// DeleteMessages удаляет сообщения из entity; запрет удаления всплывает ошибкой
// DeleteForbiddenError через classifyRPCError.
func (g *Gateway) DeleteMessages(ctx context.Context, entity Entity, messageIDs []int64) error {
	peer, err := g.peers.ResolveChannel(ctx, entity.ID)
	if err != nil {
		return &ChannelPrivateError{ChannelID: entity.ID}
	}
	ids := make([]int, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
	}
	_, err = g.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
		Channel: peer.InputChannel(),
		ID:      ids,
	})
	if err != nil {
		return classifyRPCError(err, entity.ID)
	}
	return nil
}

// DownloadMedia скачивает файл потоково в toPath и возвращает число записанных байт.
func (g *Gateway) DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, toPath string) (int64, error) {
	f, err := os.Create(toPath)
	if err != nil {
		return 0, fmt.Errorf("gateway: create scratch file: %w", err)
	}
	defer f.Close()

	d := downloader.NewDownloader()
	if _, err := d.Download(g.api, loc).Stream(ctx, f); err != nil {
		return 0, fmt.Errorf("gateway: download media: %w", classifyRPCError(err, 0))
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("gateway: stat downloaded file: %w", err)
	}
	return info.Size(), nil
}

// ListForumTopics возвращает страницу топиков форумного канала.
func (g *Gateway) ListForumTopics(ctx context.Context, channel int64, offsetTopic int) ([]TopicRef, int, error) {
	peer, err := g.peers.ResolveChannel(ctx, channel)
	if err != nil {
		return nil, 0, &ChannelPrivateError{ChannelID: channel}
	}

	res, err := g.api.MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
		Peer:        peer.InputPeer(),
		OffsetTopic: offsetTopic,
		Limit:       100,
	})
	if err != nil {
		return nil, 0, classifyRPCError(err, channel)
	}

	var out []TopicRef
	nextOffset := 0
	for _, t := range res.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		out = append(out, TopicRef{
			TopicID:     int64(topic.ID),
			Title:       topic.Title,
			IconColor:   int32(topic.IconColor),
			IconEmojiID: topic.IconEmojiID,
			IsClosed:    topic.Closed,
		})
		nextOffset = topic.ID
	}
	return out, nextOffset, nil
}

// CreateForumTopic создаёт новый топик в форумном канале.
func (g *Gateway) CreateForumTopic(ctx context.Context, channel int64, title string, iconColor int32, iconEmojiID int64, randomID int64) (int64, error) {
	peer, err := g.peers.ResolveChannel(ctx, channel)
	if err != nil {
		return 0, &ChannelPrivateError{ChannelID: channel}
	}

	req := &tg.MessagesCreateForumTopicRequest{
		Peer:      peer.InputPeer(),
		Title:     title,
		IconColor: int(iconColor),
		RandomID:  randomID,
	}
	if iconEmojiID != 0 {
		req.SetIconEmojiID(iconEmojiID)
	}

	updates, err := g.api.MessagesCreateForumTopic(ctx, req)
	if err != nil {
		return 0, classifyRPCError(err, channel)
	}

	for _, u := range extractUpdates(updates) {
		msg, ok := u.(*tg.UpdateNewChannelMessage)
		if !ok {
			continue
		}
		// Создание топика приходит сервисным сообщением; его id и есть id топика.
		switch m := msg.Message.(type) {
		case *tg.MessageService:
			return int64(m.ID), nil
		case *tg.Message:
			return int64(m.ID), nil
		}
	}
	logger.Warnf("gateway: created topic %q in %d but could not read back topic id", title, channel)
	return 0, fmt.Errorf("gateway: topic id not found in response")
}

func extractUpdates(u tg.UpdatesClass) []tg.UpdateClass {
	switch v := u.(type) {
	case *tg.Updates:
		return v.Updates
	case *tg.UpdatesCombined:
		return v.Updates
	default:
		return nil
	}
}

// classifyRPCError переводит RPC-ошибку gotd в таксономию ошибок ядра.
func classifyRPCError(err error, channelID int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Cause: err}
	}
	if rpcErr, ok := asRPCError(err); ok {
		switch rpcErr.Type {
		case "FLOOD_WAIT":
			return &FloodWaitError{Seconds: rpcErr.Argument}
		case "CHAT_ADMIN_REQUIRED":
			return &ChatAdminRequiredError{ChannelID: channelID}
		case "CHANNEL_PRIVATE", "CHANNEL_INVALID":
			return &ChannelPrivateError{ChannelID: channelID}
		case "USER_BANNED_IN_CHANNEL":
			return &UserBannedError{ChannelID: channelID}
		case "TOPIC_CLOSED":
			return &TopicClosedError{ChannelID: channelID}
		case "TOPIC_DELETED":
			return &TopicDeletedError{ChannelID: channelID}
		case "MESSAGE_DELETE_FORBIDDEN":
			return &DeleteForbiddenError{ChannelID: channelID}
		case "TIMEOUT", "NETWORK_MIGRATE":
			return &TransientError{Cause: err}
		}
	}
	return err
}
