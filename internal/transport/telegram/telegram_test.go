package telegram

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	logx "feedwatch/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	line := strings.Repeat("я", 30) + "\n"
	text := strings.Repeat(line, 10)
	chunks := splitText(text, 100)
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk has %d runes", n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk not trimmed: %q", c)
		}
		total += strings.Count(c, "я")
	}
	if total != 300 {
		t.Fatalf("lost text: %d runes", total)
	}

	long := strings.Repeat("x", 250)
	if got := splitText(long, 100); len(got) != 3 || len(got[2]) != 50 {
		t.Fatalf("no-newline split = %d chunks", len(got))
	}
}

func TestSplitTextKeepsListLinesWhole(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	b.WriteString("*Новости*\n\n")
	var lines []string
	for i := range 40 {
		line := fmt.Sprintf("• [Заголовок новости номер %d о событиях](https://example.org/news/%d) (22 июля 2025)", i, i)
		lines = append(lines, line)
		b.WriteString(line + "\n")
	}

	chunks := splitText(b.String(), 1000)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	seen := 0
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 1000 {
			t.Fatalf("chunk has %d runes", n)
		}
		for _, l := range strings.Split(c, "\n") {
			if !strings.HasPrefix(l, "• ") {
				continue
			}
			if l != lines[seen] {
				t.Fatalf("line %d split: %q", seen, l)
			}
			seen++
		}
		if strings.Count(c, "[") != strings.Count(c, "]") || strings.Count(c, "(") != strings.Count(c, ")") {
			t.Fatalf("unbalanced entity in chunk %q", c)
		}
	}
	if seen != len(lines) {
		t.Fatalf("saw %d of %d lines", seen, len(lines))
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     7,
		Text:   "/start",
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 42, FirstName: "Ivan", LastName: "Petrov", Username: "ivanp"},
	}
	got := toMessage(m)
	if got.ChatID != -100 || !got.IsGroup || got.FromID != 42 || got.FromName != "Ivan Petrov" || got.FromUsername != "ivanp" {
		t.Fatalf("message = %+v", got)
	}

	got = toMessage(&tele.Message{Chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate}, Sender: &tele.User{ID: 5, Username: "anon"}})
	if got.IsGroup || got.FromName != "anon" {
		t.Fatalf("private = %+v", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop()); err != nil {
		t.Fatalf("offline New: %v", err)
	}
}
