package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard asks for the handful of settings a new installation needs.
type Wizard struct {
	reader    *bufio.Reader
	out       io.Writer
	validator *Validator
}

// NewWizard creates a wizard reading answers from in and writing prompts to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader:    bufio.NewReader(in),
		out:       out,
		validator: NewValidator(),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== toolgate configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()

	dataDir, err := w.ask("Data directory", DefaultDataDir())
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir

	for {
		answer, err := w.ask("API listen port", strconv.Itoa(cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		port, convErr := strconv.Atoi(answer)
		if convErr == nil {
			convErr = w.validator.ValidatePort(port)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Error: %v\n", convErr)
			continue
		}
		cfg.Server.Port = port
		break
	}

	mail, err := w.confirm("Enable the mail provider?", true)
	if err != nil {
		return nil, err
	}
	cfg.Providers.Mail.Enabled = mail

	search, err := w.confirm("Enable the web search provider?", false)
	if err != nil {
		return nil, err
	}
	if search {
		for {
			endpoint, err := w.ask("Search endpoint URL", "")
			if err != nil {
				return nil, err
			}
			if endpoint == "" {
				fmt.Fprintln(w.out, "Error: endpoint is required when search is enabled")
				continue
			}
			cfg.Providers.Search.Enabled = true
			cfg.Providers.Search.Endpoint = endpoint
			break
		}
	}

	for {
		level, err := w.ask("Log level", cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		if err := w.validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Logging.Level = level
		break
	}

	cfg.applyPaths()
	return cfg, nil
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", fmt.Errorf("unexpected end of input")
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) confirm(prompt string, def bool) (bool, error) {
	hint := "y/n"
	if def {
		hint = "Y/n"
	}
	answer, err := w.ask(fmt.Sprintf("%s (%s)", prompt, hint), "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
