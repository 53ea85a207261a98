// Package pr — единая точка вывода интерактивного CLI. Инициализирует readline
// с отменяемым stdin (для прерывания логина по shutdown) и предоставляет функции
// печати для обычного, диагностического и pretty-вывода. Мьютекс защищает только
// смену ссылок на writer'ы; сами записи должны быть потокобезопасны на стороне
// целевого writer'а.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	mu sync.Mutex

	// rl появляется после Init(); до того все печати идут в os.Stdout/os.Stderr.
	rl     *readline.Instance
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	// cancelableIn — дескриптор stdin, закрытие которого даёт io.EOF в readline.
	cancelableIn io.Closer
)

// Init настраивает readline и перенаправляет вывод на его буферы.
// Повторный вызов не предусмотрен.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}

	mu.Lock()
	rl = newRl
	cancelableIn = cs
	out = newRl.Stdout()
	errOut = newRl.Stderr()
	mu.Unlock()
	return nil
}

// InterruptReadline закрывает отменяемый stdin: ожидающий Readline() получает
// io.EOF и возвращается. Повторное закрытие безопасно.
func InterruptReadline() {
	mu.Lock()
	cs := cancelableIn
	mu.Unlock()
	if cs != nil {
		_ = cs.Close()
	}
}

// SetPrompt задаёт строку приглашения. До Init() — no-op.
func SetPrompt(prompt string) {
	mu.Lock()
	r := rl
	mu.Unlock()
	if r != nil {
		r.SetPrompt(prompt)
	}
}

// Rl возвращает текущий инстанс readline; nil до Init().
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Print печатает значения без перевода строки. Работает и до Init().
func Print(a ...any) { fmt.Fprint(Stdout(), a...) }

// Println печатает значения с переводом строки.
func Println(a ...any) { fmt.Fprintln(Stdout(), a...) }

// Printf форматирует и печатает строку.
func Printf(format string, a ...any) { fmt.Fprintf(Stdout(), format, a...) }

// ErrPrintln печатает значения в поток ошибок с переводом строки.
func ErrPrintln(a ...any) { fmt.Fprintln(Stderr(), a...) }

// ErrPrintf форматирует и печатает строку в поток ошибок.
func ErrPrintf(format string, a ...any) { fmt.Fprintf(Stderr(), format, a...) }

// PP pretty-печатает значение; удобно для разовых дампов структур.
func PP(v any) { fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v)) }

// Pf возвращает pretty-строку значения, для логов и отчётов.
func Pf(v any) string { return fmt.Sprintf("%# v", pretty.Formatter(v)) }
