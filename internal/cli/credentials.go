package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"

	"github.com/chime-im/chime/internal/config"
	"github.com/chime-im/chime/internal/protocol"
)

// resolveCredentials produces the login material for the configured
// transport. The loopback transport authenticates nobody, so only the user
// id is carried through. Remote transports take the password from
// password_cmd when configured, otherwise from a terminal prompt.
func resolveCredentials(ctx context.Context, cfg *config.Config) (protocol.Credentials, error) {
	creds := protocol.Credentials{
		User:     protocol.UserID(cfg.Server.User),
		DeviceID: cfg.Server.DeviceID,
	}
	if cfg.Server.Transport == config.TransportLoopback {
		return creds, nil
	}

	password, err := resolvePassword(ctx, cfg.Server.PasswordCmd)
	if err != nil {
		return protocol.Credentials{}, err
	}
	creds.Password = password
	return creds, nil
}

func resolvePassword(ctx context.Context, passwordCmd []string) (string, error) {
	if len(passwordCmd) > 0 {
		out, err := exec.CommandContext(ctx, passwordCmd[0], passwordCmd[1:]...).Output()
		if err != nil {
			return "", fmt.Errorf("password_cmd %q: %w", passwordCmd[0], err)
		}
		password := strings.TrimRight(string(out), "\r\n")
		if password == "" {
			return "", fmt.Errorf("password_cmd %q produced no output", passwordCmd[0])
		}
		return password, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password_cmd configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
