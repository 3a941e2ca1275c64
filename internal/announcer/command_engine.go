package announcer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// CommandEngine 基于 espeak-ng 兼容命令行的语音引擎
// 每条播报一个子进程，Cancel 结束当前子进程
type CommandEngine struct {
	command string
	logger  *zap.Logger

	mu      sync.Mutex
	current *exec.Cmd
}

// NewCommandEngine 创建命令行语音引擎
func NewCommandEngine(command string, logger *zap.Logger) *CommandEngine {
	return &CommandEngine{command: command, logger: logger}
}

// Voices 解析 `<command> --voices` 的输出
func (e *CommandEngine) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, e.command, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices with %s: %w", e.command, err)
	}
	return parseVoiceList(string(out)), nil
}

func (e *CommandEngine) Speak(_ context.Context, u Utterance) error {
	args := make([]string, 0, 3)
	if u.VoiceID != "" {
		args = append(args, "-v", u.VoiceID)
	} else if u.Lang != "" {
		args = append(args, "-v", strings.ToLower(u.Lang))
	}
	args = append(args, u.Text)

	// 子进程生命周期独立于请求，只能由 Cancel 结束
	cmd := exec.Command(e.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", e.command, err)
	}

	e.mu.Lock()
	e.current = cmd
	e.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			e.logger.Debug("Utterance process exited", zap.Error(err))
		}
		e.mu.Lock()
		if e.current == cmd {
			e.current = nil
		}
		e.mu.Unlock()
	}()
	return nil
}

func (e *CommandEngine) Cancel() error {
	e.mu.Lock()
	cmd := e.current
	e.current = nil
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop utterance: %w", err)
	}
	return nil
}

// Resume 命令行引擎不会被挂起
func (e *CommandEngine) Resume() error { return nil }

// parseVoiceList 解析列表，格式：
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 2)
func parseVoiceList(output string) []Voice {
	var voices []Voice
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		lang := fields[1]
		if seen[lang] {
			continue
		}
		seen[lang] = true
		voices = append(voices, Voice{
			ID:   lang,
			Name: strings.ReplaceAll(fields[3], "_", " "),
			Lang: lang,
		})
	}
	return voices
}
