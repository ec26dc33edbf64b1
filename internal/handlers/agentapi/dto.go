package agentapi

import (
	"encoding/json"
	"time"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
)

// configurationResponse is the GET /configuration envelope.
type configurationResponse struct {
	Config     models.AgentConfig `json:"config"`
	APIVersion int                `json:"api_version"`
}

type updateAgentRequest struct {
	Name            string   `json:"name"`
	HostName        string   `json:"host_name"`
	OperatingSystem string   `json:"operating_system"`
	ClientSignature string   `json:"client_signature"`
	Devices         []string `json:"devices"`
}

type heartbeatRequest struct {
	Activity string `json:"activity"`
}

type benchmarkEntry struct {
	HashType  int     `json:"hash_type"`
	Runtime   int64   `json:"runtime"`
	HashSpeed float64 `json:"hash_speed"`
	Device    int     `json:"device"`
}

type submitBenchmarkRequest struct {
	HashcatBenchmarks []benchmarkEntry `json:"hashcat_benchmarks"`
}

type submitErrorRequest struct {
	Message  string          `json:"message"`
	Severity string          `json:"severity"`
	Metadata json.RawMessage `json:"metadata"`
	TaskID   *string         `json:"task_id"`
}

// deviceStatus is one device block of a hashcat status report.
type deviceStatus struct {
	DeviceID   int     `json:"device_id"`
	DeviceName string  `json:"device_name"`
	DeviceType string  `json:"device_type"`
	Speed      float64 `json:"speed"`
	Util       int     `json:"util"`
	Temp       int     `json:"temp"`
}

type guessStatus struct {
	GuessBase        string  `json:"guess_base"`
	GuessBaseCount   int64   `json:"guess_base_count"`
	GuessBaseOffset  int64   `json:"guess_base_offset"`
	GuessBasePercent float64 `json:"guess_base_percentage"`
	GuessMod         string  `json:"guess_mod"`
	GuessModCount    int64   `json:"guess_mod_count"`
	GuessModOffset   int64   `json:"guess_mod_offset"`
	GuessModPercent  float64 `json:"guess_mod_percentage"`
	GuessMode        int     `json:"guess_mode"`
}

// taskStatusRequest mirrors the hashcat JSON status block agents relay.
type taskStatusRequest struct {
	OriginalLine    string         `json:"original_line"`
	Time            time.Time      `json:"time"`
	Session         string         `json:"session"`
	HashcatGuess    guessStatus    `json:"hashcat_guess"`
	Status          int            `json:"status"`
	Target          string         `json:"target"`
	Progress        []int64        `json:"progress"`
	RestorePoint    int64          `json:"restore_point"`
	RecoveredHashes []int          `json:"recovered_hashes"`
	RecoveredSalts  []int          `json:"recovered_salts"`
	Rejected        int64          `json:"rejected"`
	DeviceStatuses  []deviceStatus `json:"device_statuses"`
	TimeStart       int64          `json:"time_start"`
	EstimatedStop   int64          `json:"estimated_stop"`
}

// toReport reduces the hashcat status block to what reconciliation needs.
func (req *taskStatusRequest) toReport() (services.StatusReport, error) {
	if len(req.Progress) == 0 {
		return services.StatusReport{}, core.Malformed("progress is required")
	}
	var totalSpeed float64
	for _, d := range req.DeviceStatuses {
		totalSpeed += d.Speed
	}
	speeds, err := json.Marshal(req.DeviceStatuses)
	if err != nil {
		return services.StatusReport{}, core.Malformed("invalid device statuses")
	}
	reportedAt := req.Time
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}
	return services.StatusReport{
		ProgressOffset: req.Progress[0],
		DeviceSpeeds:   speeds,
		Rejected:       req.Rejected,
		TotalSpeed:     totalSpeed,
		ReportedAt:     reportedAt,
	}, nil
}

type submitCrackRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PlainText string    `json:"plain_text"`
}

// taskWire is the task payload agents receive.
type taskWire struct {
	ID             string `json:"id"`
	AttackID       string `json:"attack_id"`
	KeyspaceOffset int64  `json:"skip"`
	KeyspaceLimit  int64  `json:"limit"`
	State          string `json:"state"`
	ProgressOffset int64  `json:"progress_offset"`
}

func taskResponse(t *models.Task) taskWire {
	return taskWire{
		ID:             t.ID.String(),
		AttackID:       t.AttackID.String(),
		KeyspaceOffset: t.KeyspaceOffset,
		KeyspaceLimit:  t.KeyspaceLength,
		State:          t.State,
		ProgressOffset: t.ProgressOffset,
	}
}

// agentWire is the agent payload returned by the agent surface; it never
// carries the token digest.
type agentWire struct {
	ID              int                `json:"id"`
	Name            string             `json:"name"`
	HostName        string             `json:"host_name"`
	OperatingSystem string             `json:"operating_system"`
	ClientSignature string             `json:"client_signature"`
	Devices         []string           `json:"devices"`
	State           string             `json:"state"`
	Config          models.AgentConfig `json:"advanced_configuration"`
}

func agentResponse(a *models.Agent) agentWire {
	return agentWire{
		ID:              a.ID,
		Name:            a.Name,
		HostName:        a.HostName,
		OperatingSystem: a.OperatingSystem,
		ClientSignature: a.ClientSignature,
		Devices:         a.Devices,
		State:           a.State,
		Config:          a.Config,
	}
}

// attackWire is the attack payload agents use to build the cracker command
// line.
type attackWire struct {
	ID              string   `json:"id"`
	CampaignID      string   `json:"campaign_id"`
	Position        int      `json:"position"`
	AttackMode      string   `json:"attack_mode"`
	HashType        int      `json:"hash_mode"`
	WordlistKey     string   `json:"word_list,omitempty"`
	RuleKey         string   `json:"rule_list,omitempty"`
	Mask            string   `json:"mask,omitempty"`
	MaskList        []string `json:"mask_list,omitempty"`
	CustomCharset1  string   `json:"custom_charset_1,omitempty"`
	CustomCharset2  string   `json:"custom_charset_2,omitempty"`
	CustomCharset3  string   `json:"custom_charset_3,omitempty"`
	CustomCharset4  string   `json:"custom_charset_4,omitempty"`
	MinLength       int      `json:"increment_minimum,omitempty"`
	MaxLength       int      `json:"increment_maximum,omitempty"`
	IncrementMode   bool     `json:"increment_mode"`
	WorkloadProfile int      `json:"workload_profile"`
	Optimized       bool     `json:"optimized"`
	TotalKeyspace   int64    `json:"total_keyspace"`
	State           string   `json:"state"`
}

func attackResponse(a *models.Attack) attackWire {
	return attackWire{
		ID:              a.ID.String(),
		CampaignID:      a.CampaignID.String(),
		Position:        a.Position,
		AttackMode:      a.Mode,
		HashType:        a.HashType,
		WordlistKey:     a.WordlistKey,
		RuleKey:         a.RuleKey,
		Mask:            a.Mask,
		MaskList:        a.MaskList,
		CustomCharset1:  a.CustomCharset1,
		CustomCharset2:  a.CustomCharset2,
		CustomCharset3:  a.CustomCharset3,
		CustomCharset4:  a.CustomCharset4,
		MinLength:       a.MinLength,
		MaxLength:       a.MaxLength,
		IncrementMode:   a.IncrementMode,
		WorkloadProfile: a.WorkloadProfile,
		Optimized:       a.Optimized,
		TotalKeyspace:   a.TotalKeyspace,
		State:           a.State,
	}
}
