package main

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/telemetry"
	"github.com/srg/cowtag/internal/testutils"
	"github.com/srg/cowtag/pkg/config"
)

// CommandTestSuite resets the package-level flag state between commands.
type CommandTestSuite struct {
	suite.Suite
	dir string
}

func (s *CommandTestSuite) SetupTest() {
	s.dir = s.T().TempDir()

	decodeFormat = "text"
	simDuration = 30 * time.Second
	simNotReadyEvery = 0
	simCollarID = 0
	simTemperature = 21500
	simBattery = 180
	hostCollarID = 0

	for _, name := range []string{"log-level", "config", "log-file"} {
		s.Require().NoError(rootCmd.PersistentFlags().Set(name, ""))
	}
	simCmd.Flags().Lookup("collar-id").Changed = false
	hostCmd.Flags().Lookup("collar-id").Changed = false
	simCmd.SilenceUsage = false
}

// ExecuteCommand runs the root command with args, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func testFrameHex() string {
	var samples [telemetry.SamplesPerFrame]telemetry.Vector
	for i := range samples {
		samples[i] = telemetry.Vector{int16(i), int16(-i), 1000}
	}
	f := telemetry.EncodeFrame(&samples, telemetry.Trailer{Hour: 12, Minute: 0, Second: 5, Battery: 180, Temperature: 21, CollarID: 7})
	return hex.EncodeToString(f[:])
}

func (s *CommandTestSuite) TestDecodeJSON() {
	// GOAL: decode prints trailer fields ahead of the samples as JSON
	//
	// TEST SCENARIO: encode frame → decode --format json → keys in order → values match
	out, err := s.ExecuteCommand("decode", "--format", "json", testFrameHex())
	s.Require().NoError(err)
	testutils.AssertJSON(s.T(), out,
		`{"collar_id":7,"time":"12:00:05","battery":180,"temperature":21,"samples":"<<PRESENCE>>"}`,
		testutils.StrictKeys())

	var doc struct {
		CollarID    uint8      `json:"collar_id"`
		Time        string     `json:"time"`
		Battery     uint8      `json:"battery"`
		Temperature uint8      `json:"temperature"`
		Samples     [][3]int16 `json:"samples"`
	}
	s.Require().NoError(json.Unmarshal([]byte(out), &doc))
	s.Equal(uint8(7), doc.CollarID)
	s.Equal("12:00:05", doc.Time)
	s.Equal(uint8(180), doc.Battery)
	s.Equal(uint8(21), doc.Temperature)
	s.Require().Len(doc.Samples, telemetry.SamplesPerFrame)
	s.Equal([3]int16{29, -29, 1000}, doc.Samples[29])

	s.Less(strings.Index(out, `"collar_id"`), strings.Index(out, `"samples"`), "trailer MUST precede samples")
}

func (s *CommandTestSuite) TestDecodeTextAcceptsSeparators() {
	h := testFrameHex()
	spaced := h[:20] + " " + h[20:40] + ":" + h[40:]

	out, err := s.ExecuteCommand("decode", spaced)
	s.Require().NoError(err)
	s.Contains(out, "Collar:")
	s.Contains(out, "12:00:05")
	s.Contains(out, "29  x=    29 y=   -29 z=  1000")
}

func (s *CommandTestSuite) TestDecodeErrors() {
	_, err := s.ExecuteCommand("decode", "zz")
	s.ErrorContains(err, "invalid hex data")

	_, err = s.ExecuteCommand("decode", "0102")
	s.ErrorIs(err, telemetry.ErrShortFrame)

	_, err = s.ExecuteCommand("decode", "--format", "xml", testFrameHex())
	s.ErrorContains(err, "invalid --format")
}

func (s *CommandTestSuite) TestInvalidLogLevel() {
	_, err := s.ExecuteCommand("sim", "--log-level", "loud")
	s.ErrorIs(err, config.ErrInvalidConfig)
	s.Contains(FormatUserError(err), "--log-level")
}

// writeFastConfig writes a config that provisions collar 9 within milliseconds.
func (s *CommandTestSuite) writeFastConfig() string {
	cfgPath := filepath.Join(s.dir, "fast.yaml")
	s.Require().NoError(os.WriteFile(cfgPath, []byte(`
log_level: error
host:
  collar_id: 9
  disconnect_delay: 20ms
  reprovision_delay: 100ms
collar:
  motion_every: 2ms
  environment_every: 50ms
  disconnect_delay: 20ms
  adv_interval: 5ms
  periodic_interval: 10ms
  watchdog: 1s
`), 0o600))
	return cfgPath
}

// readLog returns the data rows of a CSV log after checking the header.
func (s *CommandTestSuite) readLog(path string) [][]string {
	f, err := os.Open(path)
	s.Require().NoError(err)
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	s.Require().NoError(err)

	s.Require().Greater(len(records), 1, "sim MUST log at least one frame")
	s.Equal("ID", records[0][0], "header MUST come first")
	return records[1:]
}

func (s *CommandTestSuite) TestSimLogsFrames() {
	// GOAL: the sim command provisions a collar and logs its frames to the CSV file
	//
	// TEST SCENARIO: fast config → sim for 2s → CSV has header plus rows for collar 9
	logPath := filepath.Join(s.dir, "sim.csv")

	out, err := s.ExecuteCommand("sim", "--config", s.writeFastConfig(), "--log-file", logPath, "--duration", "2s")
	s.Require().NoError(err)
	s.Contains(out, "frames=")

	for _, rec := range s.readLog(logPath) {
		s.Equal("9", rec[5], "rows MUST carry the provisioned collar id")
	}
}

func (s *CommandTestSuite) TestSimCollarIDZeroOverridesConfig() {
	// GOAL: --collar-id 0 is a real id, not "unset"
	//
	// TEST SCENARIO: config says 9 → --collar-id 0 → every row carries 0
	logPath := filepath.Join(s.dir, "zero.csv")

	_, err := s.ExecuteCommand("sim", "--config", s.writeFastConfig(), "--log-file", logPath,
		"--duration", "2s", "--collar-id", "0")
	s.Require().NoError(err)

	for _, rec := range s.readLog(logPath) {
		s.Equal("0", rec[5], "explicit collar id 0 MUST be provisioned")
	}
}

func (s *CommandTestSuite) TestRuntimeErrorOmitsUsage() {
	// GOAL: failures after flag validation print the error only, not the usage block
	badPath := filepath.Join(s.dir, "missing", "log.csv")

	out, err := s.ExecuteCommand("sim", "--log-file", badPath, "--duration", "1s")
	s.Require().Error(err)
	s.NotContains(out, "Usage:", "runtime errors MUST NOT print usage")
	s.True(simCmd.SilenceUsage)
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestSimulationOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Host.CollarID = 3
	cfg.Collar.Watchdog = 5 * time.Second

	simNotReadyEvery = 4
	t.Cleanup(func() { simNotReadyEvery = 0 })

	opts := simulationOptions(cfg)
	assert.Equal(t, uint8(3), opts.Host.CollarID)
	assert.Equal(t, host.DefaultOptions().Sync, opts.Host.Sync)
	assert.Equal(t, 5*time.Second, opts.WatchdogPeriod)
	assert.Equal(t, 4, opts.NotReadyEvery)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
