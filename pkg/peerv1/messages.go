package peerv1

// Column is one named cell of a row.
type Column struct {
	Name      string `json:"name"`
	Value     []byte `json:"value,omitempty"`
	Timestamp int64  `json:"ts"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// EndPoint identifies a node on the wire.
type EndPoint struct {
	Host        string `json:"host"`
	StoragePort int    `json:"storage_port"`
	ControlPort int    `json:"control_port,omitempty"`
}

type ApplyMutationRequest struct {
	Table   string    `json:"table"`
	Key     string    `json:"key"`
	Columns []Column  `json:"columns"`
	HintFor *EndPoint `json:"hint_for,omitempty"`
}

type ApplyMutationResponse struct {
	Hinted bool `json:"hinted,omitempty"`
}

type ReadRowRequest struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

type ReadRowResponse struct {
	Found   bool     `json:"found"`
	Columns []Column `json:"columns,omitempty"`
}

type ReadDigestRequest struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

type ReadDigestResponse struct {
	Found  bool   `json:"found"`
	Digest uint64 `json:"digest"`
}

type GetSplitsRequest struct {
	Count int `json:"count"`
}

type GetSplitsResponse struct {
	Tokens []string `json:"tokens"`
}

// TokenRange is a (Left, Right] range in token string form.
type TokenRange struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type FetchRangeRequest struct {
	Ranges []TokenRange `json:"ranges"`
}

type FetchRangeResponse struct {
	Table   string   `json:"table"`
	Key     string   `json:"key"`
	Columns []Column `json:"columns"`
}

// ManifestEntry describes one file of a handoff session.
type ManifestEntry struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
	Table  string `json:"table"`
}

// HandoffRequest is either the initiate message (SessionID and Manifest set)
// or a chunk of the file at manifest index File.
type HandoffRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	Manifest  []ManifestEntry `json:"manifest,omitempty"`
	File      int             `json:"file"`
	Data      []byte          `json:"data,omitempty"`
}

type HandoffResponse struct {
	SessionID string `json:"session_id"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}
