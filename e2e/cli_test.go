package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/typerace/internal/cli"
	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/factory"
	"github.com/mcoot/typerace/internal/model"
)

const adminEmail = "admin@example.com"

// cliRunner runs the CLI in-process as one user with their own token file
type cliRunner struct {
	serverURL string
	tokenFile string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()
	t.Setenv("TYPERACE_TOKEN", "")

	return &cliRunner{
		serverURL: serverURL,
		tokenFile: filepath.Join(t.TempDir(), "token"),
	}
}

func (r *cliRunner) run(args ...string) (string, error) {
	return r.runWithInput("", args...)
}

func (r *cliRunner) runWithInput(input string, args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--token-file", r.tokenFile,
		"--output", "json",
	}, args...)

	cmd := cli.NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(fullArgs)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// testServer is the whole HTTP surface on an in-memory app
type testServer struct {
	app *factory.TestApp
	url string
}

func startTestServer(t *testing.T, gate string) *testServer {
	t.Helper()

	cfg := factory.TestConfig()
	cfg.EntryGate = gate
	cfg.AuthConfig.BootstrapAdmins = []string{adminEmail}

	app, err := factory.NewTestApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	server := httptest.NewServer(app.Handler(factory.HandlerConfig{}))
	t.Cleanup(server.Close)

	return &testServer{app: app, url: server.URL}
}

// signIn signs a new runner in as email
func (ts *testServer) signIn(t *testing.T, email string) *cliRunner {
	t.Helper()

	runner := newCLIRunner(t, ts.url)
	ts.app.MockRandom.QueueToken("session-" + email)
	output, err := runner.run("player", "signin", "--email", email)
	require.NoError(t, err, "output: %s", output)
	return runner
}

// Response types for JSON parsing
type authResponse struct {
	Identity struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		IsAdmin     bool   `json:"is_admin"`
	} `json:"identity"`
	SessionToken string `json:"session_token"`
}

type sessionResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	RaceText string `json:"race_text"`
}

type participantResponse struct {
	UserID     string  `json:"user_id"`
	Lane       int     `json:"lane"`
	ShipID     string  `json:"ship_id"`
	Progress   int     `json:"progress"`
	Accuracy   int     `json:"accuracy"`
	FinishedAt *string `json:"finished_at"`
}

type entryResponse struct {
	Session     sessionResponse     `json:"session"`
	Participant participantResponse `json:"participant"`
}

type raceResponse struct {
	Session      sessionResponse       `json:"session"`
	Participants []participantResponse `json:"participants"`
	Standings    []struct {
		Position int `json:"position"`
		participantResponse
	} `json:"standings"`
}

type progressResponse struct {
	Index    int  `json:"index"`
	Length   int  `json:"length"`
	Errors   int  `json:"errors"`
	Progress int  `json:"progress"`
	Accuracy int  `json:"accuracy"`
	Finished bool `json:"finished"`
}

type tokenResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`
	Token    string `json:"token"`
}

type liveMessage struct {
	Type     string            `json:"type"`
	Progress *progressResponse `json:"progress"`
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	runner := newCLIRunner(t, ts.url)

	output, err := runner.run("health")
	require.NoError(t, err, "output: %s", output)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCLI_PlayerCommands(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	runner := newCLIRunner(t, ts.url)

	ts.app.MockRandom.QueueToken("alice-session")
	output, err := runner.run("player", "signin", "--email", "alice@example.com", "--name", "Alice")
	require.NoError(t, err, "output: %s", output)

	var auth authResponse
	require.NoError(t, json.Unmarshal([]byte(output), &auth))
	assert.Equal(t, "alice@example.com", auth.Identity.Email)
	assert.Equal(t, "Alice", auth.Identity.DisplayName)
	assert.False(t, auth.Identity.IsAdmin)
	assert.Equal(t, "sess_alice-session", auth.SessionToken)

	// Token is read back from the token file
	output, err = runner.run("player", "me")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, output, "alice@example.com")

	output, err = runner.run("player", "signout")
	require.NoError(t, err, "output: %s", output)

	_, err = runner.run("player", "me")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", cli.ErrorCode(err))
}

func TestCLI_ShipsAndEntry(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	runner := ts.signIn(t, "alice@example.com")

	output, err := runner.run("ships")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, output, `"pinisi"`)

	output, err = runner.run("enter", "--user-id", "alice", "--ship", "pinisi")
	require.NoError(t, err, "output: %s", output)

	var entry entryResponse
	require.NoError(t, json.Unmarshal([]byte(output), &entry))
	assert.Equal(t, "waiting", entry.Session.Status)
	assert.Equal(t, 1, entry.Participant.Lane)
	assert.Equal(t, "alice", entry.Participant.UserID)

	// Entering again returns the same seat
	output, err = runner.run("enter", "--user-id", "alice", "--ship", "pinisi")
	require.NoError(t, err, "output: %s", output)
	var again entryResponse
	require.NoError(t, json.Unmarshal([]byte(output), &again))
	assert.Equal(t, entry.Session.ID, again.Session.ID)
	assert.Equal(t, 1, again.Participant.Lane)

	output, err = runner.run("race", "get", entry.Session.ID)
	require.NoError(t, err, "output: %s", output)
	var race raceResponse
	require.NoError(t, json.Unmarshal([]byte(output), &race))
	assert.Len(t, race.Participants, 1)

	_, err = runner.run("enter", "--user-id", "alice", "--ship", "ghost-ship")
	require.Error(t, err)
	assert.Equal(t, "SHIP_NOT_FOUND", cli.ErrorCode(err))
}

func TestCLI_FullRace(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	admin := ts.signIn(t, adminEmail)

	racers := make([]*cliRunner, model.LanePoolSize)
	var raceID, text string
	for i := range racers {
		racers[i] = ts.signIn(t, fmt.Sprintf("racer%d@example.com", i+1))
		output, err := racers[i].run("enter", "--user-id", fmt.Sprintf("racer%d", i+1), "--ship", "pinisi")
		require.NoError(t, err, "output: %s", output)

		var entry entryResponse
		require.NoError(t, json.Unmarshal([]byte(output), &entry))
		raceID, text = entry.Session.ID, entry.Session.RaceText
	}

	// Only admins start races
	_, err := racers[0].run("race", "start", raceID)
	require.Error(t, err)
	assert.Equal(t, "NOT_ADMIN", cli.ErrorCode(err))

	output, err := admin.run("race", "start", raceID)
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, output, `"in_progress"`)

	// The spectator stream delivers a view of the race
	output, err = admin.run("events", raceID, "--json", "--limit", "1")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, output, `"event":"view"`)

	// The first racer plays over the websocket
	output, err = racers[0].runWithInput(text+"\n", "race", "play", raceID)
	require.NoError(t, err, "output: %s", output)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var last liveMessage
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	require.Equal(t, "progress", last.Type)
	assert.True(t, last.Progress.Finished)
	assert.Equal(t, 100, last.Progress.Progress)

	// The rest type over HTTP
	for _, racer := range racers[1:] {
		output, err = racer.run("race", "type", raceID, text)
		require.NoError(t, err, "output: %s", output)

		var progress progressResponse
		require.NoError(t, json.Unmarshal([]byte(output), &progress))
		assert.True(t, progress.Finished)
	}

	output, err = admin.run("race", "get", raceID)
	require.NoError(t, err, "output: %s", output)
	var race raceResponse
	require.NoError(t, json.Unmarshal([]byte(output), &race))
	assert.Equal(t, "completed", race.Session.Status)
	require.Len(t, race.Standings, model.LanePoolSize)
	for i, standing := range race.Standings {
		assert.Equal(t, i+1, standing.Position)
		assert.NotNil(t, standing.FinishedAt)
		assert.Equal(t, 100, standing.Accuracy)
	}
}

func TestCLI_RegistryGate(t *testing.T) {
	ts := startTestServer(t, config.GateRegistry)
	admin := ts.signIn(t, adminEmail)
	racer := ts.signIn(t, "alice@example.com")

	output, err := admin.run("admin", "tokens", "issue", "alice", "--value", "s3cret")
	require.NoError(t, err, "output: %s", output)
	var issued tokenResponse
	require.NoError(t, json.Unmarshal([]byte(output), &issued))
	assert.Equal(t, "alice", issued.UserID)
	assert.Equal(t, "s3cret", issued.Token)
	assert.True(t, issued.IsActive)

	output, err = admin.run("admin", "tokens", "list")
	require.NoError(t, err, "output: %s", output)
	var tokens []tokenResponse
	require.NoError(t, json.Unmarshal([]byte(output), &tokens))
	require.Len(t, tokens, 1)
	assert.Empty(t, tokens[0].Token)

	_, err = racer.run("enter", "--user-id", "alice", "--entry-token", "wrong", "--ship", "pinisi")
	require.Error(t, err)
	assert.Equal(t, "INVALID_ENTRY_TOKEN", cli.ErrorCode(err))

	// A deactivated token no longer opens the door
	output, err = admin.run("admin", "tokens", "toggle", issued.ID)
	require.NoError(t, err, "output: %s", output)
	_, err = racer.run("enter", "--user-id", "alice", "--entry-token", "s3cret", "--ship", "pinisi")
	require.Error(t, err)
	assert.Equal(t, "INVALID_ENTRY_TOKEN", cli.ErrorCode(err))

	output, err = admin.run("admin", "tokens", "toggle", issued.ID)
	require.NoError(t, err, "output: %s", output)
	output, err = racer.run("enter", "--user-id", "alice", "--entry-token", "s3cret", "--ship", "pinisi")
	require.NoError(t, err, "output: %s", output)

	_, err = racer.run("admin", "tokens", "list")
	require.Error(t, err)
	assert.Equal(t, "NOT_ADMIN", cli.ErrorCode(err))

	output, err = admin.run("admin", "tokens", "delete", issued.ID)
	require.NoError(t, err, "output: %s", output)
	output, err = admin.run("admin", "tokens", "list")
	require.NoError(t, err, "output: %s", output)
	tokens = nil
	require.NoError(t, json.Unmarshal([]byte(output), &tokens))
	assert.Empty(t, tokens)
}

func TestCLI_AdminCommands(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	admin := ts.signIn(t, adminEmail)

	output, err := admin.run("admin", "admins", "add", "bob@example.com")
	require.NoError(t, err, "output: %s", output)

	output, err = admin.run("admin", "admins", "list")
	require.NoError(t, err, "output: %s", output)
	assert.Contains(t, output, "bob@example.com")
	assert.Contains(t, output, adminEmail)

	_, err = admin.run("admin", "admins", "remove", adminEmail)
	require.Error(t, err)
	assert.Equal(t, "PROTECTED_ADMIN", cli.ErrorCode(err))

	output, err = admin.run("admin", "admins", "remove", "bob@example.com")
	require.NoError(t, err, "output: %s", output)

	output, err = admin.run("admin", "admins", "list")
	require.NoError(t, err, "output: %s", output)
	assert.NotContains(t, output, "bob@example.com")
}

func TestCLI_Practice(t *testing.T) {
	runner := newCLIRunner(t, "http://127.0.0.1:0")

	output, err := runner.runWithInput("axbc\n", "practice", "--text", "abc")
	require.NoError(t, err, "output: %s", output)

	var progress progressResponse
	require.NoError(t, json.Unmarshal([]byte(output), &progress))
	assert.Equal(t, 3, progress.Index)
	assert.Equal(t, 1, progress.Errors)
	assert.Equal(t, 75, progress.Accuracy)
	assert.Equal(t, 100, progress.Progress)
	assert.True(t, progress.Finished)
}

func TestCLI_PracticeStoppedEarly(t *testing.T) {
	runner := newCLIRunner(t, "http://127.0.0.1:0")

	output, err := runner.runWithInput("ab\n", "practice", "--text", "abcd")
	require.NoError(t, err, "output: %s", output)

	var progress progressResponse
	require.NoError(t, json.Unmarshal([]byte(output), &progress))
	assert.Equal(t, 2, progress.Index)
	assert.Equal(t, 50, progress.Progress)
	assert.False(t, progress.Finished)
}

func TestCLI_ErrorHandling(t *testing.T) {
	ts := startTestServer(t, config.GateOpen)
	runner := ts.signIn(t, "alice@example.com")

	_, err := runner.run("race", "get", "no-such-race")
	require.Error(t, err)
	assert.Equal(t, "SESSION_NOT_FOUND", cli.ErrorCode(err))

	// Only seated racers may open a race socket
	_, err = runner.run("race", "play", "no-such-race")
	require.Error(t, err)
	assert.Equal(t, "NOT_PARTICIPANT", cli.ErrorCode(err))

	anonymous := newCLIRunner(t, ts.url)
	_, err = anonymous.run("enter", "--user-id", "alice", "--ship", "pinisi")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", cli.ErrorCode(err))
}
