package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mt_copier/internal/models"
)

// Токены заголовков ledger файла
const (
	tokenType   = "TYPE"
	tokenStatus = "STATUS"
	tokenConfig = "CONFIG"

	tokenEnabled  = "ENABLED"
	tokenDisabled = "DISABLED"
	tokenNull     = "NULL"
	tokenTrue     = "TRUE"
	tokenFalse    = "FALSE"
)

// TypeLine - [TYPE] [ROLE] [PLATFORM] [accountId]
type TypeLine struct {
	Role      models.Role
	Platform  models.Platform
	AccountID string
}

// StatusLine - [STATUS] [ONLINE|OFFLINE] [unixSeconds]
type StatusLine struct {
	Status    models.Status
	Timestamp time.Time
}

// ConfigLine - [CONFIG] [MASTER|SLAVE] [ENABLED|DISABLED] ...
type ConfigLine struct {
	Role    models.Role
	Enabled bool

	// только для master
	DisplayName string

	// только для slave
	LotMultiplier    float64
	ForceLot         *float64
	Reverse          bool
	MinLot           *float64
	MaxLot           *float64
	MasterID         string
	MasterLedgerPath string
}

// Document - разобранный ledger файл
type Document struct {
	Type     *TypeLine
	Status   *StatusLine
	Config   *ConfigLine
	Snapshot models.OrderSnapshot
}

// ParseError - строка ledger файла, которую не удалось разобрать.
// Строка пропускается, остальной файл обрабатывается.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Parse разбирает содержимое ledger файла
func Parse(text string) (Document, []*ParseError) {
	var (
		doc        Document
		issues     []*ParseError
		hasCounter bool
	)

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}

		fail := func(format string, args ...any) {
			issues = append(issues, &ParseError{Line: i + 1, Text: line, Reason: fmt.Sprintf(format, args...)})
		}

		tokens, err := splitTokens(line)
		if err != nil {
			fail("%v", err)
			continue
		}

		switch strings.ToUpper(tokens[0]) {
		case tokenType:
			t, err := parseTypeLine(tokens[1:])
			if err != nil {
				fail("%v", err)
				continue
			}
			doc.Type = &t
			continue
		case tokenStatus:
			s, err := parseStatusLine(tokens[1:])
			if err != nil {
				fail("%v", err)
				continue
			}
			doc.Status = &s
			continue
		case tokenConfig:
			c, err := parseConfigLine(tokens[1:])
			if err != nil {
				fail("%v", err)
				continue
			}
			doc.Config = &c
			continue
		}

		if len(tokens) != 1 {
			fail("unexpected %d tokens", len(tokens))
			continue
		}

		if !strings.Contains(tokens[0], ",") {
			if hasCounter {
				fail("duplicate counter line")
				continue
			}
			doc.Snapshot.Counter = tokens[0]
			hasCounter = true
			continue
		}

		order, err := models.ParseOrderFields(strings.Split(tokens[0], ","))
		if err != nil {
			fail("%v", err)
			continue
		}
		doc.Snapshot.Orders = append(doc.Snapshot.Orders, order)
	}

	if !hasCounter && len(doc.Snapshot.Orders) > 0 {
		doc.Snapshot.Counter = "0"
	}

	return doc, issues
}

// ParseSnapshot разбирает только счётчик и ордера
func ParseSnapshot(text string) (models.OrderSnapshot, []*ParseError) {
	doc, issues := Parse(text)
	return doc.Snapshot, issues
}

// Format сериализует документ. Всегда \n, без \r.
func (d Document) Format() string {
	var b strings.Builder

	if d.Type != nil {
		writeTokens(&b, tokenType, string(d.Type.Role), string(d.Type.Platform), d.Type.AccountID)
	}
	if d.Status != nil {
		writeTokens(&b, tokenStatus, string(d.Status.Status), strconv.FormatInt(d.Status.Timestamp.Unix(), 10))
	}
	if d.Config != nil {
		writeTokens(&b, d.Config.tokens()...)
	}

	if d.Snapshot.Counter != "" || len(d.Snapshot.Orders) > 0 {
		b.WriteString(FormatSnapshot(d.Snapshot))
	}

	return b.String()
}

// FormatSnapshot сериализует счётчик и ордера
func FormatSnapshot(s models.OrderSnapshot) string {
	var b strings.Builder

	counter := s.Counter
	if counter == "" {
		counter = "0"
	}
	writeTokens(&b, counter)

	for _, o := range s.Orders {
		writeTokens(&b, strings.Join(o.Fields(), ","))
	}

	return b.String()
}

func (c ConfigLine) tokens() []string {
	enabled := tokenDisabled
	if c.Enabled {
		enabled = tokenEnabled
	}

	if c.Role != models.RoleSlave {
		return []string{tokenConfig, string(models.RoleMaster), enabled, c.DisplayName}
	}

	multiplier := c.LotMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	reverse := tokenFalse
	if c.Reverse {
		reverse = tokenTrue
	}

	return []string{
		tokenConfig,
		string(models.RoleSlave),
		enabled,
		strconv.FormatFloat(multiplier, 'f', -1, 64),
		formatOptional(c.ForceLot),
		reverse,
		formatOptional(c.MinLot),
		formatOptional(c.MaxLot),
		orNull(c.MasterID),
		orNull(c.MasterLedgerPath),
	}
}

func parseTypeLine(tokens []string) (TypeLine, error) {
	if len(tokens) != 3 {
		return TypeLine{}, fmt.Errorf("TYPE expects 3 values, got %d", len(tokens))
	}

	role, err := models.ParseRole(tokens[0])
	if err != nil {
		return TypeLine{}, err
	}

	return TypeLine{
		Role:      role,
		Platform:  models.Platform(strings.ToUpper(tokens[1])),
		AccountID: tokens[2],
	}, nil
}

func parseStatusLine(tokens []string) (StatusLine, error) {
	if len(tokens) != 2 {
		return StatusLine{}, fmt.Errorf("STATUS expects 2 values, got %d", len(tokens))
	}

	status, err := models.ParseStatus(tokens[0])
	if err != nil {
		return StatusLine{}, err
	}

	ts, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		return StatusLine{}, fmt.Errorf("invalid status timestamp %q", tokens[1])
	}

	return StatusLine{Status: status, Timestamp: time.Unix(ts, 0).UTC()}, nil
}

func parseConfigLine(tokens []string) (ConfigLine, error) {
	if len(tokens) < 2 {
		return ConfigLine{}, fmt.Errorf("CONFIG expects role and state")
	}

	role, err := models.ParseRole(tokens[0])
	if err != nil {
		return ConfigLine{}, err
	}

	var c ConfigLine
	c.Role = role

	switch strings.ToUpper(tokens[1]) {
	case tokenEnabled:
		c.Enabled = true
	case tokenDisabled:
	default:
		return ConfigLine{}, fmt.Errorf("invalid config state %q", tokens[1])
	}

	switch role {
	case models.RoleMaster:
		if len(tokens) > 2 {
			c.DisplayName = tokens[2]
		}
		return c, nil
	case models.RoleSlave:
	default:
		return ConfigLine{}, fmt.Errorf("config for role %s is not supported", role)
	}

	if len(tokens) != 10 {
		return ConfigLine{}, fmt.Errorf("slave CONFIG expects 10 values, got %d", len(tokens))
	}

	if c.LotMultiplier, err = strconv.ParseFloat(tokens[2], 64); err != nil {
		return ConfigLine{}, fmt.Errorf("invalid lot multiplier %q", tokens[2])
	}
	if c.ForceLot, err = parseOptional(tokens[3]); err != nil {
		return ConfigLine{}, err
	}

	switch strings.ToUpper(tokens[4]) {
	case tokenTrue:
		c.Reverse = true
	case tokenFalse:
	default:
		return ConfigLine{}, fmt.Errorf("invalid reverse flag %q", tokens[4])
	}

	if c.MinLot, err = parseOptional(tokens[5]); err != nil {
		return ConfigLine{}, err
	}
	if c.MaxLot, err = parseOptional(tokens[6]); err != nil {
		return ConfigLine{}, err
	}

	c.MasterID = fromNull(tokens[7])
	c.MasterLedgerPath = fromNull(tokens[8])

	return c, nil
}

// splitTokens разбивает строку вида "[a] [b c] [d]" на токены
func splitTokens(line string) ([]string, error) {
	var tokens []string

	rest := line
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("expected '[' at %q", rest)
		}

		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated token")
		}

		token := rest[1:end]
		if strings.ContainsRune(token, '[') {
			return nil, fmt.Errorf("nested '[' in token")
		}

		tokens = append(tokens, strings.TrimSpace(token))
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	return tokens, nil
}

func writeTokens(b *strings.Builder, tokens ...string) {
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		b.WriteString(t)
		b.WriteByte(']')
	}
	b.WriteByte('\n')
}

func formatOptional(v *float64) string {
	if v == nil {
		return tokenNull
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptional(s string) (*float64, error) {
	if strings.EqualFold(s, tokenNull) || s == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}

	return &v, nil
}

func orNull(s string) string {
	if s == "" {
		return tokenNull
	}
	return s
}

func fromNull(s string) string {
	if strings.EqualFold(s, tokenNull) {
		return ""
	}
	return s
}
