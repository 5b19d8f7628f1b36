package models

// TaskFileVersion is the only batch document schema version understood by
// this release.
const TaskFileVersion = "1.0"

// TaskFileDefaults carries per-document default settings for batch entries.
type TaskFileDefaults struct {
	Priority int `yaml:"priority,omitempty"`
}

// TaskFileConfig carries execution settings for batch entries. A document
// level default_config applies to every entry unless the entry sets its
// own config block.
type TaskFileConfig struct {
	AutoCommit bool `yaml:"auto_commit"`
}

// TaskFileEntry is one task definition inside a batch task document.
type TaskFileEntry struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name,omitempty"`
	Repository string          `yaml:"repository,omitempty"`
	Worktree   string          `yaml:"worktree"`
	BaseBranch string          `yaml:"base_branch,omitempty"`
	Priority   int             `yaml:"priority,omitempty"`
	DependsOn  []string        `yaml:"depends_on,omitempty"`
	Prompt     string          `yaml:"prompt,omitempty"`
	Verify     []string        `yaml:"verification_commands,omitempty"`
	Config     *TaskFileConfig `yaml:"config,omitempty"`
}

// TaskFile is the versioned YAML document accepted by "task add --file".
type TaskFile struct {
	Version       string            `yaml:"version"`
	Repository    string            `yaml:"repository,omitempty"`
	Defaults      *TaskFileDefaults `yaml:"defaults,omitempty"`
	DefaultConfig *TaskFileConfig   `yaml:"default_config,omitempty"`
	Tasks         []TaskFileEntry   `yaml:"tasks"`
}
