package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Flip reassigns one supercell site to a new encoded species. A step is an
// ordered slice of flips applied sequentially.
type Flip struct {
	Site int `json:"site"`
	Code int `json:"code"`
}

// RunRecord is the persisted description of one sampling run. ParentID links
// a resumed run to the run it continues; ConfigYAML carries the raw
// configuration so a run can be rebuilt without the original file.
type RunRecord struct {
	VersionedRecord
	ID              string    `json:"id"`
	ParentID        string    `json:"parent_id,omitempty"`
	CreatedAtUTC    string    `json:"created_at_utc"`
	SystemName      string    `json:"system_name"`
	Ensemble        string    `json:"ensemble"`
	Kernel          string    `json:"kernel"`
	StepType        string    `json:"step_type"`
	Bias            string    `json:"bias,omitempty"`
	Temperature     float64   `json:"temperature"`
	Seed            int64     `json:"seed"`
	Walkers         int       `json:"walkers"`
	Sweeps          int       `json:"sweeps"`
	ThinBy          int       `json:"thin_by"`
	NumSites        int       `json:"num_sites"`
	SupercellMatrix [][]int   `json:"supercell_matrix"`
	Coefficients    []float64 `json:"coefficients"`
	ConfigYAML      string    `json:"config_yaml,omitempty"`
}

// SampleRecord is one walker's saved snapshot at a sweep boundary. Accepted
// is cumulative over the chain.
type SampleRecord struct {
	VersionedRecord
	RunID     string    `json:"run_id"`
	Sweep     int       `json:"sweep"`
	Walker    int       `json:"walker"`
	Accepted  uint64    `json:"accepted"`
	Occupancy []int     `json:"occupancy"`
	Features  []float64 `json:"features"`
	Potential float64   `json:"potential"`
}
