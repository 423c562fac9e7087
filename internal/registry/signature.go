package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	eventNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	paramNameRe  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	fixedBytesRe = regexp.MustCompile(`^bytes([1-9]|[12][0-9]|3[0-2])$`)
	integerRe    = regexp.MustCompile(`^u?int(8|16|24|32|40|48|56|64|72|80|88|96|104|112|120|128|136|144|152|160|168|176|184|192|200|208|216|224|232|240|248|256)?$`) //nolint:lll
	arraySuffix  = regexp.MustCompile(`\[\d*\]$`)
)

// abiInput mirrors one input of a JSON ABI event entry.
type abiInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

// abiEvent mirrors a JSON ABI event entry.
type abiEvent struct {
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Anonymous bool       `json:"anonymous"`
	Inputs    []abiInput `json:"inputs"`
}

// parseSignature parses a human-readable event signature such as
// "Transfer(address indexed from, address indexed to, uint256 value)".
// Inputs declared without a name keep an empty name.
func parseSignature(sig string) (*abiEvent, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, errors.New("empty signature")
	}

	open := strings.Index(sig, "(")
	if open == -1 {
		return nil, fmt.Errorf("signature %q: missing opening parenthesis", sig)
	}
	if !strings.HasSuffix(sig, ")") {
		return nil, fmt.Errorf("signature %q: missing closing parenthesis", sig)
	}

	name := strings.TrimSpace(sig[:open])
	if !eventNameRe.MatchString(name) {
		return nil, fmt.Errorf("signature %q: invalid event name %q", sig, name)
	}

	body := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if strings.ContainsAny(body, "()") {
		return nil, fmt.Errorf("signature %q: tuple inputs require a JSON ABI", sig)
	}

	event := &abiEvent{Type: "event", Name: name, Inputs: []abiInput{}}
	if body == "" {
		return event, nil
	}

	seen := make(map[string]bool)
	for i, part := range strings.Split(body, ",") {
		input, err := parseInput(part)
		if err != nil {
			return nil, fmt.Errorf("signature %q input %d: %w", sig, i, err)
		}

		if input.Name != "" {
			if seen[input.Name] {
				return nil, fmt.Errorf("signature %q: duplicate input name %s", sig, input.Name)
			}
			seen[input.Name] = true
		}

		event.Inputs = append(event.Inputs, input)
	}

	return event, nil
}

// parseInput parses "type", "type name", "type indexed" or "type indexed name".
func parseInput(s string) (abiInput, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return abiInput{}, errors.New("empty input")
	}

	input := abiInput{Type: parts[0]}
	if !validType(input.Type) {
		return abiInput{}, fmt.Errorf("invalid type %s", input.Type)
	}

	rest := parts[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		input.Indexed = true
		rest = rest[1:]
	}

	switch len(rest) {
	case 0:
	case 1:
		if !paramNameRe.MatchString(rest[0]) {
			return abiInput{}, fmt.Errorf("invalid input name %s", rest[0])
		}
		input.Name = rest[0]
	default:
		return abiInput{}, fmt.Errorf("unexpected tokens %q", strings.Join(rest, " "))
	}

	return input, nil
}

func validType(typ string) bool {
	for arraySuffix.MatchString(typ) {
		typ = arraySuffix.ReplaceAllString(typ, "")
	}

	switch typ {
	case "address", "bool", "string", "bytes":
		return true
	}

	return fixedBytesRe.MatchString(typ) || integerRe.MatchString(typ)
}

// SignaturesToABI converts human-readable event signatures into JSON ABI text.
func SignaturesToABI(signatures []string) (string, error) {
	events := make([]*abiEvent, 0, len(signatures))
	for _, sig := range signatures {
		event, err := parseSignature(sig)
		if err != nil {
			return "", err
		}
		events = append(events, event)
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode ABI: %w", err)
	}

	return string(out), nil
}
