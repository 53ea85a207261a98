// Package grouper — сборка потока сообщений (упорядоченного по id) в логические группы:
// по частям имени файла (multi-part архивы) либо по близости отправитель+время.
// Результат детерминирован: итоговый список групп отсортирован по id первого сообщения.
package grouper

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/SWORDIntel/spectra/internal/gateway"
)

// Strategy выбирает способ разбиения сообщений на группы.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyTime     Strategy = "time"
	StrategyFilename Strategy = "filename"
)

// Group — непустой список сообщений в порядке отправки (по id; в группах по имени
// файла — по номеру части); дедупликатор и форвардер
// обрабатывают его как одно целое.
type Group struct {
	Messages []gateway.Message
}

// FirstID возвращает id первого сообщения группы (в группах по имени файла это id
// первой части, не обязательно наименьший); по нему сортируется итоговый список.
func (g Group) FirstID() int64 {
	if len(g.Messages) == 0 {
		return 0
	}
	return g.Messages[0].ID
}

// GroupMessages разбивает messages (уже упорядоченные по возрастанию id) на группы.
func GroupMessages(messages []gateway.Message, strategy Strategy, windowSeconds int64, sameSender bool) []Group {
	switch strategy {
	case StrategyTime:
		return groupByTime(messages, windowSeconds, sameSender)
	case StrategyFilename:
		return groupByFilename(messages)
	default:
		return groupNone(messages)
	}
}

func groupNone(messages []gateway.Message) []Group {
	groups := make([]Group, len(messages))
	for i, m := range messages {
		groups[i] = Group{Messages: []gateway.Message{m}}
	}
	return groups
}

// groupByTime открывает новую группу при смене отправителя или паузе больше windowSeconds.
func groupByTime(messages []gateway.Message, windowSeconds int64, sameSender bool) []Group {
	var groups []Group
	var current Group
	var prev *gateway.Message

	for i := range messages {
		m := messages[i]
		newGroup := prev == nil
		if prev != nil {
			if sameSender && m.SenderID != prev.SenderID {
				newGroup = true
			}
			if m.Date.Unix()-prev.Date.Unix() > windowSeconds {
				newGroup = true
			}
		}
		if newGroup && len(current.Messages) > 0 {
			groups = append(groups, current)
			current = Group{}
		}
		current.Messages = append(current.Messages, m)
		prev = &messages[i]
	}
	if len(current.Messages) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// multiDotExtensions распознаются как цельное расширение, а не режутся по последней точке.
var multiDotExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz"}

// standalonePartPatterns ловят имя, целиком состоящее из токена части: базой становится
// всё имя, номер части не извлекается.
var standalonePartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\.part(\d+)$`),
	regexp.MustCompile(`(?i)^_part(\d+)$`),
	regexp.MustCompile(`(?i)^\s*\((\d+)\)$`),
}

// trailingPartPatterns ловят токен части в конце имени (`.partN`, `_partN`, ` (N)`,
// `.N`/`_N` из 1-4 цифр); токен отрезается, остаётся настоящая база.
var trailingPartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.*)\.part(\d+)$`),
	regexp.MustCompile(`(?i)^(.*)_part(\d+)$`),
	regexp.MustCompile(`(?i)^(.*)\s+\((\d+)\)$`),
	regexp.MustCompile(`(?i)^(.*)\.(\d{1,4})$`),
	regexp.MustCompile(`(?i)^(.*)_(\d{1,4})$`),
}

type filenameParts struct {
	base    string
	ext     string
	partNum int // 0 means "no part"
}

// parseFilenameForGrouping разбирает имя на (база, расширение, номер части).
func parseFilenameForGrouping(name string) filenameParts {
	ext := ""
	stem := name
	lower := strings.ToLower(name)
	for _, multi := range multiDotExtensions {
		if strings.HasSuffix(lower, multi) {
			ext = name[len(name)-len(multi):]
			stem = name[:len(name)-len(multi)]
			break
		}
	}
	if ext == "" {
		ext = filepath.Ext(name)
		stem = strings.TrimSuffix(name, ext)
	}

	for _, re := range standalonePartPatterns {
		if m := re.FindStringSubmatch(stem); m != nil {
			return filenameParts{base: name, ext: ext, partNum: 0}
		}
	}

	for _, re := range trailingPartPatterns {
		m := re.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		base, numStr := m[1], m[2]
		if base == "" {
			continue
		}
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		return filenameParts{base: base, ext: ext, partNum: n}
	}

	return filenameParts{base: stem, ext: ext, partNum: 0}
}

type bucketKey struct {
	senderID int64
	base     string
	ext      string
}

// groupByFilename раскладывает сообщения по ключу (sender_id, база, расширение) без учёта
// регистра. Корзины из двух и более участников становятся группами с сортировкой по номеру
// части, затем по id; одиночки и сообщения без файла идут отдельными группами.
func groupByFilename(messages []gateway.Message) []Group {
	type entry struct {
		msg  gateway.Message
		part filenameParts
	}
	buckets := map[bucketKey][]entry{}
	var order []bucketKey
	var lone []gateway.Message

	for _, m := range messages {
		// Сообщение без файла или без отправителя группировать не по чему — одиночка.
		if m.File == nil || m.File.Name == "" || m.SenderID == 0 {
			lone = append(lone, m)
			continue
		}
		parts := parseFilenameForGrouping(m.File.Name)
		key := bucketKey{senderID: m.SenderID, base: strings.ToLower(parts.base), ext: strings.ToLower(parts.ext)}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], entry{msg: m, part: parts})
	}

	var groups []Group
	for _, m := range lone {
		groups = append(groups, Group{Messages: []gateway.Message{m}})
	}
	for _, key := range order {
		entries := buckets[key]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].part.partNum != entries[j].part.partNum {
				return entries[i].part.partNum < entries[j].part.partNum
			}
			return entries[i].msg.ID < entries[j].msg.ID
		})
		g := Group{}
		for _, e := range entries {
			g.Messages = append(g.Messages, e.msg)
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].FirstID() < groups[j].FirstID()
	})
	return groups
}
