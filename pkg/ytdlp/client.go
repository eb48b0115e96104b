package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ExecError is a failed yt-dlp invocation.
type ExecError struct {
	Cmd      string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	msg := "ytdlp: command failed"
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("ytdlp: command failed (exit %d)", e.ExitCode)
	}
	if line := lastLine(e.Stderr); line != "" {
		return msg + ": " + line
	}
	return msg + ": " + strings.TrimSpace(e.Cmd+" "+strings.Join(e.Args, " "))
}

func (e *ExecError) Unwrap() error { return e.Cause }

var httpErrorRe = regexp.MustCompile(`HTTP Error (\d{3})`)

// StatusCode is the last upstream HTTP status yt-dlp reported, or 0.
func (e *ExecError) StatusCode() int {
	m := httpErrorRe.FindAllStringSubmatch(e.Stderr, -1)
	if len(m) == 0 {
		return 0
	}
	code, _ := strconv.Atoi(m[len(m)-1][1])
	return code
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

type Client struct {
	// Path to yt-dlp executable. Defaults to "yt-dlp" (PATH lookup).
	Path string

	// Cookies is the cookies.txt content for authenticated extractors.
	// If set, a temporary cookies file is created for each command.
	Cookies string

	// ExtraArgs are always appended before per-call args.
	ExtraArgs []string

	// Logger receives stderr lines at debug level. Nil disables it.
	Logger *slog.Logger

	execFn func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

func New() *Client {
	return &Client{Path: "yt-dlp"}
}

func (c *Client) exec(ctx context.Context, args ...string) (stdout []byte, stderr []byte, err error) {
	name := c.PathOrDefault()

	fullArgs := make([]string, 0, len(c.ExtraArgs)+len(args)+2)
	fullArgs = append(fullArgs, c.ExtraArgs...)

	if c.Cookies != "" {
		cookiesFile, err := createTempCookiesFile(c.Cookies)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp cookies file: %w", err)
		}
		defer os.Remove(cookiesFile)
		fullArgs = append(fullArgs, "--cookies", cookiesFile)
	}

	fullArgs = append(fullArgs, args...)

	if c.execFn != nil {
		return c.execFn(ctx, name, fullArgs...)
	}

	cmd := exec.CommandContext(ctx, name, fullArgs...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	if c.Logger != nil {
		for line := range strings.Lines(errBuf.String()) {
			if line = strings.TrimSpace(line); line != "" {
				c.Logger.Debug("yt-dlp", "line", line)
			}
		}
	}
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Version returns `yt-dlp --version`.
func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := c.exec(ctx, "--version")
	if err != nil {
		return "", wrapExecError(c.PathOrDefault(), []string{"--version"}, stdout, stderr, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// PathOrDefault returns the configured path or "yt-dlp" if unset.
func (c *Client) PathOrDefault() string {
	if strings.TrimSpace(c.Path) == "" {
		return "yt-dlp"
	}
	return c.Path
}

func wrapExecError(cmd string, args []string, stdout []byte, stderr []byte, cause error) error {
	exitCode := 0
	var ee *exec.ExitError
	if errors.As(cause, &ee) {
		exitCode = ee.ExitCode()
	}

	return &ExecError{
		Cmd:      cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		Cause:    cause,
	}
}

func createTempCookiesFile(content string) (string, error) {
	f, err := os.CreateTemp("", "ytdlp-cookies-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
