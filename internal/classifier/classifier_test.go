package classifier_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/gateway"
)

func docMsg(name, mime string, size int64) gateway.Message {
	return gateway.Message{
		ID:       1,
		SenderID: 1,
		File:     &gateway.FileInfo{ID: 1, Name: name, MIME: mime, Size: size},
		Media:    &gateway.MediaInfo{Kind: "document", Attrs: map[string]string{}},
	}
}

func TestClassifyContentTypes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		msg          gateway.Message
		wantType     string
		wantCategory string
	}{
		{
			name:         "photo",
			msg:          gateway.Message{ID: 1, Media: &gateway.MediaInfo{Kind: "photo"}},
			wantType:     "photo",
			wantCategory: "photos",
		},
		{
			name: "videoDocument",
			msg: gateway.Message{
				ID:    2,
				File:  &gateway.FileInfo{ID: 2, Name: "clip.mp4", Size: 1 << 20},
				Media: &gateway.MediaInfo{Kind: "video", Attrs: map[string]string{"duration": "15"}},
			},
			wantType:     "video",
			wantCategory: "videos",
		},
		{
			name: "voiceDocument",
			msg: gateway.Message{
				ID:    3,
				File:  &gateway.FileInfo{ID: 3, Name: "note.ogg", Size: 2048},
				Media: &gateway.MediaInfo{Kind: "voice", Attrs: map[string]string{"duration": "4"}},
			},
			wantType: "voice",
			// Для voice правила нет: категория падает в имя типа.
			wantCategory: "voice",
		},
		{
			name:         "archiveByExtension",
			msg:          docMsg("backup.rar", "application/x-rar", 1024),
			wantType:     "document",
			wantCategory: "documents",
		},
		{
			name:         "plainText",
			msg:          gateway.Message{ID: 4, Text: "hello world"},
			wantType:     "text",
			wantCategory: "text",
		},
		{
			name:         "empty",
			msg:          gateway.Message{ID: 5},
			wantType:     "unknown",
			wantCategory: "unknown",
		},
	}

	c := classifier.New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			md := c.Classify(tc.msg)
			if md.ContentType != tc.wantType {
				t.Fatalf("ContentType = %q, want %q", md.ContentType, tc.wantType)
			}
			if md.Category != tc.wantCategory {
				t.Fatalf("Category = %q, want %q", md.Category, tc.wantCategory)
			}
		})
	}
}

func TestClassifyRulePriority(t *testing.T) {
	t.Parallel()

	// Правило с более высоким приоритетом побеждает независимо от порядка добавления.
	c := classifier.New()
	c.AddRule(classifier.Rule{
		Name: "rarOverride", Strategy: classifier.StrategyFileExtension,
		Pattern: "archive", Category: "special_archives", Priority: 200,
	})

	md := c.Classify(docMsg("dump_part1.rar", "application/x-rar", 4096))
	if md.Category != "special_archives" {
		t.Fatalf("Category = %q, want special_archives", md.Category)
	}
}

func TestClassifySizeRule(t *testing.T) {
	t.Parallel()

	// Штатное правило по типу документа (приоритет 90) перекрывает size-правило (50);
	// size-правило проверяем на классификаторе только с ним одним.
	c := &classifier.Classifier{}
	c.AddRule(classifier.Rule{
		Name: "bigOnly", Strategy: classifier.StrategySizeBased,
		Pattern: "large", Category: "large_files", Priority: 50, MinSize: 50 * 1024 * 1024,
	})

	md := c.Classify(docMsg("blob.xyz", "application/octet-stream", 60*1024*1024))
	if md.Category != "large_files" {
		t.Fatalf("Category = %q, want large_files", md.Category)
	}
	if md.SizeCategory != "large" {
		t.Fatalf("SizeCategory = %q, want large", md.SizeCategory)
	}

	small := c.Classify(docMsg("blob.xyz", "application/octet-stream", 1024))
	if small.Category != "document" {
		t.Fatalf("Category = %q, want fallback to content type", small.Category)
	}
}

func TestClassifyPatternRule(t *testing.T) {
	t.Parallel()

	c := classifier.New()
	md := c.Classify(gateway.Message{ID: 9, Text: "see https://example.com/page"})
	if md.Category != "links" {
		t.Fatalf("Category = %q, want links", md.Category)
	}
	found := false
	for _, kw := range md.Keywords {
		if kw == "url" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Keywords = %v, want to contain \"url\"", md.Keywords)
	}
}

func TestClassifyDeterminism(t *testing.T) {
	t.Parallel()

	c := classifier.New()
	msg := docMsg("data_part2.tar.gz", "application/gzip", 123456)
	msg.Text = "quarterly export https://files.example.org/x #data"

	first := c.Classify(msg)
	for range 10 {
		again := c.Classify(msg)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Classify() is not deterministic: %+v vs %+v", first, again)
		}
	}
	if first.Confidence < 0 || first.Confidence > 1 {
		t.Fatalf("Confidence = %v, want within [0,1]", first.Confidence)
	}
}

func TestKeywordExtractionCapAndStopwords(t *testing.T) {
	t.Parallel()

	words := make([]string, 0, 40)
	for r := 'a'; r < 'a'+30; r++ {
		words = append(words, strings.Repeat(string(r), 6))
	}
	text := "the and for you " + strings.Join(words, " ")

	c := classifier.New()
	md := c.Classify(gateway.Message{ID: 11, Text: text})

	if len(md.Keywords) > 20 {
		t.Fatalf("len(Keywords) = %d, want <= 20", len(md.Keywords))
	}
	for _, kw := range md.Keywords {
		if kw == "the" || kw == "and" || kw == "for" || kw == "you" {
			t.Fatalf("stop word %q leaked into keywords %v", kw, md.Keywords)
		}
	}
}

func TestVideoSubcategoryByDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		duration string
		want     string
	}{
		{name: "short", duration: "10", want: "short_video"},
		{name: "regular", duration: "300", want: "video"},
		{name: "long", duration: "7200", want: "long_video"},
	}

	c := classifier.New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			msg := gateway.Message{
				ID:    1,
				File:  &gateway.FileInfo{ID: 1, Name: "v.mp4", Size: 1 << 20},
				Media: &gateway.MediaInfo{Kind: "video", Attrs: map[string]string{"duration": tc.duration}},
			}
			md := c.Classify(msg)
			if md.Subcategory != tc.want {
				t.Fatalf("Subcategory = %q, want %q (duration %s)", md.Subcategory, tc.want, tc.duration)
			}
		})
	}
}
