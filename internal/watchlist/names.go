package watchlist

import (
	"math/rand/v2"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	maxNameAttempts = 100
	suffixLen       = 4
	suffixAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateName returns a random adjective-surname pair such as "vibrant-hopper".
func GenerateName() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + surnames[rand.IntN(len(surnames))]
}

// GenerateUniqueName draws names until exists reports one as free. After
// maxNameAttempts collisions it appends a random suffix.
func GenerateUniqueName(exists func(name string) (bool, error)) (string, error) {
	for range maxNameAttempts {
		name := GenerateName()
		taken, err := exists(name)
		if err != nil {
			return "", eris.Wrap(err, "watchlist: check name")
		}
		if !taken {
			return name, nil
		}
	}

	var sb strings.Builder
	sb.WriteString(GenerateName())
	sb.WriteByte('-')
	for range suffixLen {
		sb.WriteByte(suffixAlphabet[rand.IntN(len(suffixAlphabet))])
	}
	return sb.String(), nil
}

// ValidName reports whether name has the adjective-surname shape. Suffixed
// names are valid.
func ValidName(name string) bool {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}
