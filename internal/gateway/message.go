package gateway

import (
	"time"

	"github.com/gotd/td/tg"
)

// Entity — разрешённая сущность Telegram: чат, канал или пользователь.
type Entity struct {
	ID    int64
	Title string
	Kind  string // "user", "chat", "channel"
}

// FileInfo описывает файловую нагрузку сообщения. AccessHash и FileReference —
// непрозрачные токены, без которых InputDocumentFileLocation не отдаст байты.
type FileInfo struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	Name          string
	Size          int64
	MIME          string
}

// InputLocation собирает tg-локацию для скачивания этого файла.
func (f *FileInfo) InputLocation() tg.InputFileLocationClass {
	return &tg.InputDocumentFileLocation{
		ID:            f.ID,
		AccessHash:    f.AccessHash,
		FileReference: f.FileReference,
	}
}

// MediaInfo описывает медиа-дискриминатор сообщения: вид (photo, video, voice и т.д.)
// и разобранные атрибуты документа (duration, width, height).
type MediaInfo struct {
	Kind  string
	Attrs map[string]string
}

// ReplyInfo — на что отвечает сообщение, включая маршрутизацию в топик форума.
type ReplyInfo struct {
	MessageID int64
	TopicID   int64
}

// Message — единый плоский тип сообщения, против которого программируют все
// компоненты. Никаких duck-typed объектов: поля фиксированы здесь.
type Message struct {
	ID       int64
	Date     time.Time
	SenderID int64
	Text     string
	File     *FileInfo
	Media    *MediaInfo
	ReplyTo  *ReplyInfo
}

// MessageRef идентифицирует отправленное или пересланное сообщение (для инвентаря и ответов).
type MessageRef struct {
	ChannelID int64
	MessageID int64
}

// IterOptions настраивает IterMessages.
type IterOptions struct {
	MinID     int64
	TopicID   int64
	MediaOnly bool
	Reverse   bool
}

// TopicRef — топик форума в ответах ListForumTopics/CreateForumTopic.
type TopicRef struct {
	TopicID      int64
	Title        string
	IconColor    int32
	IconEmojiID  int64
	MessageCount int
	IsClosed     bool
}
