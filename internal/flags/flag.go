package flags

// Flag is one entry in a feature-flag registry file.
type Flag struct {
	Key          string   `json:"key" yaml:"key"`
	State        string   `json:"state" yaml:"state"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	LastModified string   `json:"lastModified,omitempty" yaml:"lastModified,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Owner        string   `json:"owner,omitempty" yaml:"owner,omitempty"`
}
