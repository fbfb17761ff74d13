package ledger

import (
	"strconv"
	"strings"
	"time"

	"mt_copier/internal/models"
)

// RewriteStatus возвращает MutateFunc, которая меняет только STATUS строку.
// Timestamp активности сохраняется: если STATUS строки нет, берётся время модификации файла.
func RewriteStatus(status models.Status) MutateFunc {
	return func(cur Current) ([]byte, error) {
		if !cur.Exists {
			return nil, ErrNotFound
		}

		doc, _ := Parse(string(cur.Data))

		ts := cur.ModTime
		if doc.Status != nil {
			if doc.Status.Status == status {
				return nil, ErrUnchanged
			}
			ts = doc.Status.Timestamp
		}

		return []byte(replaceHeader(string(cur.Data), tokenStatus, statusLine(status, ts))), nil
	}
}

// RewriteConfig возвращает MutateFunc, которая заменяет CONFIG строку.
// Остальные строки остаются без изменений. Файл не создаётся: его заводит EA.
func RewriteConfig(cfg ConfigLine) MutateFunc {
	return func(cur Current) ([]byte, error) {
		if !cur.Exists {
			return nil, ErrNotFound
		}

		line := formatLine(cfg.tokens()...)

		text := string(cur.Data)
		doc, _ := Parse(text)

		if doc.Config != nil && formatLine(doc.Config.tokens()...) == line {
			return nil, ErrUnchanged
		}

		// без STATUS строки активность считается по mtime - фиксируем её до записи
		if doc.Status == nil {
			text = replaceHeader(text, tokenStatus, statusLine(models.StatusOnline, cur.ModTime))
		}

		return []byte(replaceHeader(text, tokenConfig, line)), nil
	}
}

// StampActivity возвращает документ с STATUS ONLINE и временем at
func StampActivity(doc Document, at time.Time) Document {
	doc.Status = &StatusLine{Status: models.StatusOnline, Timestamp: at.UTC()}
	return doc
}

func statusLine(status models.Status, ts time.Time) string {
	return formatLine(tokenStatus, string(status), strconv.FormatInt(ts.Unix(), 10))
}

func formatLine(tokens ...string) string {
	var b strings.Builder
	writeTokens(&b, tokens...)
	return b.String()
}

var headerOrder = []string{tokenType, tokenStatus, tokenConfig}

// replaceHeader заменяет строку заголовка token на line,
// либо вставляет её после предшествующих заголовков
func replaceHeader(text, token, line string) string {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	insertAt := 0
	rank := headerRank(token)

	for i, l := range lines {
		head := headerToken(l)
		if head == token {
			lines[i] = line
			return strings.Join(lines, "")
		}
		if head != "" && headerRank(head) < rank {
			insertAt = i + 1
		}
	}

	// последняя строка могла быть без \n
	if insertAt > 0 && !strings.HasSuffix(lines[insertAt-1], "\n") {
		lines[insertAt-1] += "\n"
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertAt]...)
	out = append(out, line)
	out = append(out, lines[insertAt:]...)

	return strings.Join(out, "")
}

func headerToken(line string) string {
	line = strings.TrimSpace(line)
	for _, t := range headerOrder {
		if len(line) >= len(t)+2 && strings.EqualFold(line[:len(t)+2], "["+t+"]") {
			return t
		}
	}
	return ""
}

func headerRank(token string) int {
	for i, t := range headerOrder {
		if t == token {
			return i
		}
	}
	return len(headerOrder)
}
