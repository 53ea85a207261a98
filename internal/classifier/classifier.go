// Package classifier — детерминированная классификация сообщений по правилам:
// тип контента, категория, подкатегория, ключевые слова и confidence в [0,1].
// Таблицы правил, групп расширений, размерных полос и текстовых паттернов фиксированы;
// порядок применения правил стабилен (приоритет, затем порядок добавления).
package classifier

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/SWORDIntel/spectra/internal/gateway"
)

// Strategy — способ сопоставления правила с сообщением.
type Strategy string

const (
	StrategyMediaType     Strategy = "media_type"
	StrategyFileExtension Strategy = "file_extension"
	StrategySizeBased     Strategy = "size_based"
	StrategyPatternMatch  Strategy = "pattern_matching"
)

// Rule — одна запись таблицы правил, упорядоченной по приоритету.
type Rule struct {
	Name     string
	Strategy Strategy
	Pattern  string
	Category string
	Priority int
	MinSize  int64
	MaxSize  int64 // 0 means unbounded
}

// Metadata — выход классификатора; вызывающий сохраняет его как store.ContentMetadata.
type Metadata struct {
	ContentType  string
	Category     string
	Subcategory  string
	FileExt      string
	FileSize     int64
	MIME         string
	Duration     int64
	Width        int64
	Height       int64
	Keywords     []string
	Confidence   float64
	SizeCategory string
}

var extensionGroups = map[string][]string{
	"image":      {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg", ".ico"},
	"video":      {".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v"},
	"audio":      {".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a"},
	"document":   {".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt"},
	"archive":    {".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz"},
	"code":       {".py", ".js", ".java", ".c", ".cpp", ".h", ".html", ".css", ".php"},
	"data":       {".json", ".xml", ".csv", ".sql", ".db", ".sqlite"},
	"ebook":      {".epub", ".mobi", ".azw", ".fb2", ".djvu"},
	"font":       {".ttf", ".otf", ".woff", ".woff2", ".eot"},
	"cad":        {".dwg", ".dxf", ".step", ".stp", ".iges", ".igs"},
	"vector":     {".ai", ".eps", ".ps", ".cdr"},
	"executable": {".exe", ".msi", ".deb", ".rpm", ".dmg", ".app"},
	"iso_image":  {".iso", ".img", ".bin", ".cue"},
}

type sizeBand struct {
	name     string
	min, max int64 // max -1 means unbounded
}

var sizeCategories = []sizeBand{
	{"tiny", 0, 10 * 1024},
	{"small", 10 * 1024, 100 * 1024},
	{"medium", 100 * 1024, 10 * 1024 * 1024},
	{"large", 10 * 1024 * 1024, 100 * 1024 * 1024},
	{"huge", 100 * 1024 * 1024, -1},
}

var textPatterns = map[string]*regexp.Regexp{
	"url":         regexp.MustCompile(`https?://\S+`),
	"email":       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	"hashtag":     regexp.MustCompile(`#\w+`),
	"mention":     regexp.MustCompile(`@\w+`),
	"phone":       regexp.MustCompile(`\+?[1-9]?[0-9]{7,15}`),
	"bitcoin":     regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
	"ip_address":  regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
}

var commonWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {}, "day": {},
	"get": {}, "has": {}, "him": {}, "his": {}, "how": {}, "its": {}, "may": {}, "new": {},
	"now": {}, "old": {}, "see": {}, "two": {}, "who": {}, "boy": {}, "did": {}, "man": {},
	"end": {}, "few": {}, "got": {}, "let": {}, "put": {}, "say": {}, "she": {}, "too": {}, "use": {},
}

var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

// Classifier применяет к сообщениям набор правил, упорядоченный по приоритету.
type Classifier struct {
	rules []Rule
}

// New собирает Classifier со штатным набором правил.
func New() *Classifier {
	c := &Classifier{}
	c.AddRule(Rule{Name: "photo_classification", Strategy: StrategyMediaType, Pattern: "photo", Category: "photos", Priority: 100})
	c.AddRule(Rule{Name: "video_classification", Strategy: StrategyMediaType, Pattern: "video", Category: "videos", Priority: 100})
	c.AddRule(Rule{Name: "audio_classification", Strategy: StrategyMediaType, Pattern: "audio", Category: "audio", Priority: 100})
	c.AddRule(Rule{Name: "document_classification", Strategy: StrategyMediaType, Pattern: "document", Category: "documents", Priority: 90})
	c.AddRule(Rule{Name: "archive_files", Strategy: StrategyFileExtension, Pattern: "archive", Category: "archives", Priority: 80})
	c.AddRule(Rule{Name: "code_files", Strategy: StrategyFileExtension, Pattern: "code", Category: "source_code", Priority: 80})
	c.AddRule(Rule{Name: "large_files", Strategy: StrategySizeBased, Pattern: "large", Category: "large_files", Priority: 50, MinSize: 50 * 1024 * 1024})
	c.AddRule(Rule{Name: "url_content", Strategy: StrategyPatternMatch, Pattern: "url", Category: "links", Priority: 60})
	return c
}

// AddRule добавляет правило и пересортировывает список по убыванию приоритета.
// Сортировка стабильная: правила равного приоритета сохраняют порядок добавления.
func (c *Classifier) AddRule(r Rule) {
	c.rules = append(c.rules, r)
	sort.SliceStable(c.rules, func(i, j int) bool { return c.rules[i].Priority > c.rules[j].Priority })
}

// Classify определяет content_type, категорию, подкатегорию, ключевые слова и confidence.
func (c *Classifier) Classify(msg gateway.Message) Metadata {
	md := Metadata{Category: "general", Confidence: 1.0}
	md.ContentType = detectContentType(msg)

	if msg.File != nil {
		md.FileSize = msg.File.Size
		md.MIME = msg.File.MIME
		md.FileExt = strings.ToLower(filepath.Ext(msg.File.Name))
		md.SizeCategory = sizeCategory(md.FileSize)
	}
	if msg.Media != nil {
		md.Duration = attrInt(msg.Media, "duration")
		md.Width = attrInt(msg.Media, "width")
		md.Height = attrInt(msg.Media, "height")
	}

	applied := false
	for _, rule := range c.rules {
		if ruleMatches(rule, msg, md) {
			md.Category = rule.Category
			md.Confidence = minFloat(md.Confidence+0.1, 1.0)
			applied = true
			break
		}
	}
	if !applied {
		md.Category = md.ContentType
	}

	applyTypeSpecificMetadata(&md)

	if msg.Text != "" {
		md.Keywords = extractKeywords(msg.Text)
	}
	return md
}

func detectContentType(msg gateway.Message) string {
	if msg.Media == nil && msg.File == nil {
		if msg.Text != "" {
			return "text"
		}
		return "unknown"
	}
	if msg.Media != nil {
		switch msg.Media.Kind {
		case "photo":
			return "photo"
		case "contact":
			return "contact"
		case "location", "venue", "geo":
			return "location"
		case "poll":
			return "poll"
		case "game":
			return "game"
		case "webpage":
			return "webpage"
		}
	}
	if msg.File != nil {
		return classifyDocument(msg.Media)
	}
	return "unknown"
}

func classifyDocument(media *gateway.MediaInfo) string {
	if media == nil {
		return "document"
	}
	switch media.Kind {
	case "video", "voice", "audio", "sticker", "animation":
		return media.Kind
	}
	return "document"
}

func attrInt(media *gateway.MediaInfo, key string) int64 {
	v, err := strconv.ParseInt(media.Attrs[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func ruleMatches(rule Rule, msg gateway.Message, md Metadata) bool {
	switch rule.Strategy {
	case StrategyMediaType:
		return md.ContentType == rule.Pattern
	case StrategyFileExtension:
		if md.FileExt == "" {
			return false
		}
		return extensionCategory(md.FileExt) == rule.Pattern
	case StrategySizeBased:
		if md.FileSize == 0 {
			return false
		}
		if md.FileSize < rule.MinSize {
			return false
		}
		if rule.MaxSize > 0 && md.FileSize > rule.MaxSize {
			return false
		}
		return true
	case StrategyPatternMatch:
		if msg.Text == "" {
			return false
		}
		re, ok := textPatterns[rule.Pattern]
		if !ok {
			return false
		}
		return re.MatchString(msg.Text)
	}
	return false
}

func extensionCategory(ext string) string {
	for category, exts := range extensionGroups {
		for _, e := range exts {
			if e == ext {
				return category
			}
		}
	}
	return ""
}

func sizeCategory(size int64) string {
	for _, band := range sizeCategories {
		if size >= band.min && (band.max < 0 || size < band.max) {
			return band.name
		}
	}
	return "unknown"
}

func applyTypeSpecificMetadata(md *Metadata) {
	switch md.ContentType {
	case "photo":
		md.Subcategory = "photo"
	case "video":
		md.Subcategory = "video"
		if md.Duration > 0 {
			switch {
			case md.Duration < 30:
				md.Subcategory = "short_video"
			case md.Duration > 3600:
				md.Subcategory = "long_video"
			}
		}
	case "voice":
		md.Subcategory = "voice_message"
	case "audio":
		md.Subcategory = "audio_file"
	case "document":
		if cat := extensionCategory(md.FileExt); cat != "" {
			md.Subcategory = cat
		}
	}
}

// extractKeywords собирает имена сработавших паттернов и слова длиннее трёх символов
// (кроме стоп-слов), не более 20 записей. Порядок детерминирован сортировкой.
func extractKeywords(text string) []string {
	var keywords []string
	for name, re := range textPatterns {
		if re.MatchString(text) {
			keywords = append(keywords, name)
		}
	}
	sort.Strings(keywords)

	seen := map[string]struct{}{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 3 {
			continue
		}
		if _, common := commonWords[w]; common {
			continue
		}
		seen[w] = struct{}{}
	}
	words := make([]string, 0, len(seen))
	for w := range seen {
		words = append(words, w)
	}
	sort.Strings(words)
	keywords = append(keywords, words...)

	if len(keywords) > 20 {
		keywords = keywords[:20]
	}
	return keywords
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
