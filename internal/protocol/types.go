package protocol

// Category names a rule group inside a RuleSet.
type Category string

const (
	CategoryHeader   Category = "header"
	CategoryRequest  Category = "request"
	CategoryResponse Category = "response"
)

// Rule is a single rewrite directive. A rule is dynamic when SourceID is
// set; its delivered HeaderValue is then Prefix + source value + Suffix.
// Text fields may hold {{NAME}} placeholders.
type Rule struct {
	ID                string   `json:"id"`
	Name              string   `json:"name,omitempty"`
	HeaderName        string   `json:"headerName,omitempty"`
	HeaderValue       string   `json:"headerValue,omitempty"`
	Domains           []string `json:"domains"`
	Enabled           bool     `json:"isEnabled"`
	IsDynamic         bool     `json:"isDynamic,omitempty"`
	SourceID          string   `json:"sourceId,omitempty"`
	Prefix            string   `json:"prefix,omitempty"`
	Suffix            string   `json:"suffix,omitempty"`
	RequiredVariables []string `json:"envVars,omitempty"`
	Tag               string   `json:"tag,omitempty"`
}

// Clone returns a deep copy.
func (r Rule) Clone() Rule {
	out := r
	out.Domains = append([]string(nil), r.Domains...)
	out.RequiredVariables = append([]string(nil), r.RequiredVariables...)
	return out
}

// RuleSet groups rules by category, each in delivery order.
type RuleSet struct {
	Header   []Rule `json:"header"`
	Request  []Rule `json:"request"`
	Response []Rule `json:"response"`
}

// Categories returns the categories in a fixed order.
func Categories() []Category {
	return []Category{CategoryHeader, CategoryRequest, CategoryResponse}
}

// Get returns the rules of one category.
func (rs RuleSet) Get(c Category) []Rule {
	switch c {
	case CategoryHeader:
		return rs.Header
	case CategoryRequest:
		return rs.Request
	case CategoryResponse:
		return rs.Response
	}
	return nil
}

// With returns a copy of rs with category c replaced.
func (rs RuleSet) With(c Category, rules []Rule) RuleSet {
	switch c {
	case CategoryHeader:
		rs.Header = rules
	case CategoryRequest:
		rs.Request = rules
	case CategoryResponse:
		rs.Response = rules
	}
	return rs
}

// Clone returns a deep copy. Nil categories become empty slices so the
// JSON form is always [] rather than null.
func (rs RuleSet) Clone() RuleSet {
	var out RuleSet
	for _, c := range Categories() {
		src := rs.Get(c)
		dst := make([]Rule, len(src))
		for i, r := range src {
			dst[i] = r.Clone()
		}
		out = out.With(c, dst)
	}
	return out
}

// Len returns the total number of rules.
func (rs RuleSet) Len() int {
	return len(rs.Header) + len(rs.Request) + len(rs.Response)
}

// Source is an externally maintained value provider.
type Source struct {
	ID      string `json:"sourceId"`
	Type    string `json:"sourceType"`
	Tag     string `json:"sourceTag,omitempty"`
	Path    string `json:"sourcePath,omitempty"`
	Content string `json:"sourceContent"`
}

// VariableSnapshot maps variable names to values.
type VariableSnapshot map[string]string

// Clone returns a copy.
func (v VariableSnapshot) Clone() VariableSnapshot {
	out := make(VariableSnapshot, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// NetworkState is the host's view of connectivity, relayed verbatim.
type NetworkState struct {
	IsOnline         bool   `json:"isOnline"`
	NetworkQuality   string `json:"networkQuality,omitempty"`
	VPNActive        bool   `json:"vpnActive"`
	PrimaryInterface string `json:"primaryInterface,omitempty"`
	Timestamp        int64  `json:"timestamp"`
}

// ClientInfo is the identity a client declares during the handshake.
type ClientInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// RecordingStatus values carried by videoRecordingStatus.
type RecordingStatus string

const (
	RecordingStarted  RecordingStatus = "started"
	RecordingStopped  RecordingStatus = "stopped"
	RecordingError    RecordingStatus = "error"
	RecordingDisabled RecordingStatus = "disabled"
)
