// Интерактивный логин: на каждый аккаунт пула — свой поток авторизации со своим
// номером телефона.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/SWORDIntel/spectra/internal/infra/pr"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

func readLine(prompt string) (string, error) {
	rl := pr.Rl()
	if rl == nil {
		return "", errors.New("interactive input unavailable")
	}
	pr.SetPrompt(prompt)
	line, err := rl.Readline()
	return strings.TrimSpace(line), err
}

// TerminalAuthenticator реализует auth.UserAuthenticator опросом оператора в
// терминале — для аккаунтов пула без действующей сессии.
type TerminalAuthenticator struct {
	PhoneNumber string
}

func (t TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

func (t TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine(fmt.Sprintf("Enter the code sent to %s: ", t.PhoneNumber))
}

func (t TerminalAuthenticator) Password(_ context.Context) (string, error) {
	pr.Printf("Enter 2FA password for %s: ", t.PhoneNumber)
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

func (t TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

func (t TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{FirstName: firstName, LastName: lastName}, nil
}
