// Package tokenscli implements the `imcp-server tokens` interactive
// administration shell: local create/list/revoke of tokens and per-service
// permissions against the same on-disk snapshot file the running server
// watches (SPEC_FULL.md §2.4, §4 "trust boundary not specified" made
// concrete for development and testing).
package tokenscli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reeflective/readline"

	"github.com/imcphost/imcp/internal/tokenstore"
)

// Run opens the interactive shell against the snapshot file at path.
// knownServiceIDs is the registry's catalog (registry.Registry.ServiceIDs),
// used to power /services and to validate /permit's service-id argument.
func Run(path string, knownServiceIDs []string) error {
	tokens, err := tokenstore.Load(path)
	if err != nil {
		return fmt.Errorf("tokenscli: load %s: %w", path, err)
	}

	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "imcp-tokens> " })
	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	fmt.Println("iMCP token administration. Type /help for commands, /quit to exit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("goodbye")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line == "/quit" || line == "/exit" || line == "/q" {
			return nil
		}

		tokens, err = dispatch(path, tokens, knownServiceIDs, line)
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(path string, tokens []tokenstore.Token, knownServiceIDs []string, line string) ([]tokenstore.Token, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return tokens, nil
	}

	switch fields[0] {
	case "/help":
		printHelp()
		return tokens, nil

	case "/list":
		printTokens(tokens)
		return tokens, nil

	case "/services":
		printServiceIDs(knownServiceIDs)
		return tokens, nil

	case "/create":
		if len(fields) < 2 {
			return tokens, fmt.Errorf("usage: /create <name>")
		}
		name := strings.Join(fields[1:], " ")
		tok, err := newToken(name)
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if err := tokenstore.Persist(path, tokens); err != nil {
			return tokens, err
		}
		fmt.Printf("created %s (%s)\nsecret: %s\n", tok.Name, tok.ID, tok.Secret)
		return tokens, nil

	case "/revoke":
		if len(fields) < 2 {
			return tokens, fmt.Errorf("usage: /revoke <token-id>")
		}
		out := tokens[:0]
		removed := false
		for _, t := range tokens {
			if t.ID == fields[1] {
				removed = true
				continue
			}
			out = append(out, t)
		}
		if !removed {
			return tokens, fmt.Errorf("no token with id %s", fields[1])
		}
		if err := tokenstore.Persist(path, out); err != nil {
			return tokens, err
		}
		fmt.Println("revoked", fields[1])
		return out, nil

	case "/permit":
		if len(fields) < 4 {
			return tokens, fmt.Errorf("usage: /permit <token-id> <service-id> <off|readOnly|full>")
		}
		perm := tokenstore.Permission(fields[3])
		switch perm {
		case tokenstore.PermissionOff, tokenstore.PermissionReadOnly, tokenstore.PermissionFull:
		default:
			return tokens, fmt.Errorf("invalid permission %q", fields[3])
		}
		if len(knownServiceIDs) > 0 && !isKnownService(knownServiceIDs, fields[2]) {
			return tokens, fmt.Errorf("unknown service id %q, try /services", fields[2])
		}
		found := false
		for i := range tokens {
			if tokens[i].ID == fields[1] {
				if tokens[i].Permissions == nil {
					tokens[i].Permissions = make(map[string]tokenstore.Permission)
				}
				tokens[i].Permissions[fields[2]] = perm
				found = true
				break
			}
		}
		if !found {
			return tokens, fmt.Errorf("no token with id %s", fields[1])
		}
		if err := tokenstore.Persist(path, tokens); err != nil {
			return tokens, err
		}
		fmt.Printf("set %s permission for %s to %s\n", fields[2], fields[1], perm)
		return tokens, nil

	default:
		return tokens, fmt.Errorf("unknown command %q, try /help", fields[0])
	}
}

func newToken(name string) (tokenstore.Token, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return tokenstore.Token{}, fmt.Errorf("generate secret: %w", err)
	}
	return tokenstore.Token{
		ID:          uuid.NewString(),
		Name:        name,
		Secret:      hex.EncodeToString(secretBytes),
		CreatedAt:   time.Now(),
		Permissions: make(map[string]tokenstore.Permission),
	}, nil
}

func isKnownService(knownServiceIDs []string, id string) bool {
	for _, known := range knownServiceIDs {
		if known == id {
			return true
		}
	}
	return false
}

func printServiceIDs(knownServiceIDs []string) {
	if len(knownServiceIDs) == 0 {
		fmt.Println("(no services registered)")
		return
	}
	for _, id := range knownServiceIDs {
		fmt.Println(id)
	}
}

func printTokens(tokens []tokenstore.Token) {
	if len(tokens) == 0 {
		fmt.Println("(no tokens)")
		return
	}
	for _, t := range tokens {
		fmt.Printf("%s  %-20s created=%s perms=%s\n", t.ID, t.Name, t.CreatedAt.Format(time.RFC3339), formatPerms(t.Permissions))
	}
}

func formatPerms(perms map[string]tokenstore.Permission) string {
	if len(perms) == 0 {
		return "{}"
	}
	var parts []string
	for svc, p := range perms {
		parts = append(parts, svc+"="+string(p))
	}
	return strings.Join(parts, ",")
}

func printHelp() {
	fmt.Print(`commands:
  /list                                       list tokens
  /services                                   list known service ids
  /create <name>                              create a new token
  /revoke <token-id>                          revoke a token
  /permit <token-id> <service-id> <level>      set a permission (off|readOnly|full)
  /quit                                        exit
`)
}
