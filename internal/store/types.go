package store

import "time"

// AccountStatus — состояние аккаунта в пуле.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountBanned   AccountStatus = "banned"
	AccountCooldown AccountStatus = "cooldown"
)

// Account — авторизованная сессия Telegram и её эксплуатационное состояние.
type Account struct {
	SessionID     string
	APIID         int
	APIHash       string
	Phone         string
	Status        AccountStatus
	CooldownUntil *time.Time
	UsageCount    int
	LastError     string
}

// ChannelAccess — факт «аккаунт account_id читает канал channel_id».
// Пара (account_id, channel_id) уникальна.
type ChannelAccess struct {
	AccountID    string
	ChannelID    int64
	ChannelTitle string
	LastSeenAt   time.Time
}

// FileHash — контентный отпечаток файла. SHA-256 уникален и неизменен;
// строки никогда не обновляются и не удаляются.
type FileHash struct {
	FileID         int64
	SHA256         string
	PerceptualHash string
	FuzzyHash      string
	FirstSeenAt    time.Time
}

// InventoryRow — запись «файл file_id переслан из канала сообщением message_id».
// Таблица append-only: одна строка на успешную пересылку.
type InventoryRow struct {
	ChannelID   int64
	MessageID   int64
	FileID      int64
	TopicID     *int64
	ForwardedAt time.Time
}

// ForumTopic — кешируемая запись о топике форумного канала.
// Уникальна по (channel_id, topic_id); удаление мягкое, через is_active=false.
type ForumTopic struct {
	ID             int64
	ChannelID      int64
	TopicID        int64
	Title          string
	IconColor      int32
	IconEmojiID    *int64
	Category       string
	Subcategory    string
	Description    string
	MessageCount   int
	CreatedAt      time.Time
	LastActivityAt time.Time
	IsActive       bool
}

// ContentMetadata — результат классификации одного сообщения.
// Upsert по (channel_id, message_id).
type ContentMetadata struct {
	MessageID   int64
	ChannelID   int64
	ContentType string
	Category    string
	Subcategory string
	FileExt     string
	FileSize    *int64
	MIME        string
	Duration    *int64
	Width       *int64
	Height      *int64
	Keywords    string
	Confidence  float64
	ExtraJSON   string
}

// AssignmentMethod — способ, которым сообщение получило топик.
type AssignmentMethod string

const (
	MethodAuto     AssignmentMethod = "auto"
	MethodFallback AssignmentMethod = "fallback"
	MethodManual   AssignmentMethod = "manual"
)

// TopicAssignment — привязка сообщения к топику. Upsert по (channel_id, message_id).
type TopicAssignment struct {
	MessageID    int64
	ChannelID    int64
	TopicID      *int64
	TopicTitle   string
	Category     string
	Method       AssignmentMethod
	Confidence   float64
	FallbackUsed bool
	CreatedAt    time.Time
}

// StatsDelta — аддитивный аргумент AccumulateStats: каждое поле прибавляется
// к существующей строке (channel, date) либо засевает новую. Других путей
// изменения статистики нет, поэтому значения монотонно не убывают.
type StatsDelta struct {
	MessagesProcessed     int
	TopicsCreated         int
	SuccessfulAssignments int
	FailedAssignments     int
	FallbackUsed          int
	CategoryDelta         map[string]int
}

// OrganizationStats — накопленная статистика организации за день по каналу.
type OrganizationStats struct {
	ChannelID             int64
	Date                  string
	MessagesProcessed     int
	TopicsCreated         int
	SuccessfulAssignments int
	FailedAssignments     int
	FallbackUsed          int
	Categories            map[string]int
}

// QueueStatus — статус записи файловой очереди.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSuccess QueueStatus = "success"
	QueueError   QueueStatus = "error"
)

// QueueEntry — элемент персистентной очереди пересылки файлов.
type QueueEntry struct {
	QueueID       int64
	ScheduleID    *int64
	OriginChannel int64
	MessageID     int64
	FileID        *int64
	Destination   int64
	Status        string
	EnqueuedAt    time.Time
	AttemptedAt   *time.Time
}

// ScheduleKind — тип периодической задачи планировщика.
type ScheduleKind string

const (
	ScheduleChannelForward ScheduleKind = "channel_forward"
	ScheduleFileForward    ScheduleKind = "file_forward"
	ScheduleMassMigration  ScheduleKind = "mass_migration"
	ScheduleGeneric        ScheduleKind = "generic"
)

// ScheduleEntry — периодическая задача с cron-выражением и типизированным payload.
type ScheduleEntry struct {
	ID         int64
	Kind       ScheduleKind
	CronExpr   string
	ParamsJSON string
	Priority   int
	Enabled    bool
	LastRunAt  *time.Time
}

// MirrorProgress — прогресс зеркалирования пары (источник, назначение).
type MirrorProgress struct {
	SourceChannel int64
	DestChannel   int64
	LastMessageID int64
	Status        string
	UpdatedAt     time.Time
}
