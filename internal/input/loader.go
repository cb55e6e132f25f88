// Package input parses the line-oriented files that feed a run: registration
// credentials, farming account emails, and proxy URIs. Blank lines and
// #-comments are skipped everywhere; malformed credential lines fail the load
// so typos surface before any API traffic.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/solazh/hivefarm/internal/domain"
)

// ErrMalformedLine marks an input line that does not match the expected
// format.
var ErrMalformedLine = errors.New("malformed input line")

// LoadRegistrationAccounts reads "email:password[:imap_host]" lines into
// accounts in status "new".
func LoadRegistrationAccounts(path string) ([]*domain.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer func() { _ = f.Close() }()

	accounts, err := ParseRegistrationAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return accounts, nil
}

// ParseRegistrationAccounts parses credential lines from r.
func ParseRegistrationAccounts(r io.Reader) ([]*domain.Account, error) {
	var accounts []*domain.Account

	lineNo := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if skippable(line) {
			continue
		}

		// Passwords may themselves contain ':'; the optional IMAP host only
		// counts when the third field looks like a hostname.
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: line %d: expected email:password", ErrMalformedLine, lineNo)
		}

		email, password := parts[0], parts[1]
		imapHost := ""
		if len(parts) == 3 {
			imapHost = parts[2]
		}

		account, err := domain.NewAccount(email, password, imapHost)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, lineNo, err)
		}
		accounts = append(accounts, account)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

// LoadFarmingEmails reads one email per line. An empty (or missing) file is
// not an error: it means "farm every logged-in account".
func LoadFarmingEmails(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open farming accounts file: %w", err)
	}
	defer func() { _ = f.Close() }()

	emails, err := parseLines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return emails, nil
}

// LoadProxyLines reads raw proxy URIs; validation happens when the pool is
// built. A missing file means "no proxies, connect directly".
func LoadProxyLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open proxies file: %w", err)
	}
	defer func() { _ = f.Close() }()

	lines, err := parseLines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}

func parseLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if skippable(line) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func skippable(line string) bool {
	return line == "" || strings.HasPrefix(line, "#")
}
