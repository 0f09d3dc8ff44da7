package db

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// ResolvePassword retrieves the database password using the following precedence:
// 1. The literal password from the connection descriptor
// 2. Execute password_command if configured
// 3. Use PGPASSWORD environment variable if set
// 4. Prompt interactively for password
func ResolvePassword(password, passwordCommand string) (string, error) {
	if password != "" {
		return password, nil
	}

	if passwordCommand != "" {
		out, err := executePasswordCommand(passwordCommand)
		if err != nil {
			return "", fmt.Errorf("password command failed: %w", err)
		}
		return out, nil
	}

	// PGPASSWORD counts even when set empty
	if _, exists := os.LookupEnv("PGPASSWORD"); exists {
		return os.Getenv("PGPASSWORD"), nil
	}

	out, err := promptForPassword()
	if err != nil {
		return "", fmt.Errorf("interactive password prompt failed: %w", err)
	}
	return out, nil
}

// executePasswordCommand executes the configured password command with a 5-second timeout
func executePasswordCommand(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty password command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after 5 seconds")
		}
		return "", fmt.Errorf("command failed: %w (stderr: %s)", err, stderr.String())
	}

	password := strings.TrimSpace(stdout.String())
	if password == "" {
		return "", fmt.Errorf("command returned empty password")
	}

	return password, nil
}

// promptForPassword prompts the user to enter a password interactively.
// The password input is hidden from the terminal.
func promptForPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprintln(os.Stderr)

	password := string(passwordBytes)
	if password == "" {
		return "", fmt.Errorf("empty password entered")
	}

	return password, nil
}
