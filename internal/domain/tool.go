package domain

// ParameterDefinition describes one parameter a tool accepts. TypeName
// is a loose JSON-schema style label ("string", "number", "boolean",
// ...) used only for surface-schema generation at the protocol
// boundary; the engine stringifies values at bind time regardless.
type ParameterDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	TypeName    string `json:"type_name"`
}

// ToolDefinition is a runnable tool: an addressed script plus its
// declared parameters.
type ToolDefinition struct {
	Path        ToolPath              `json:"path"`
	Description string                `json:"description"`
	Script      string                `json:"script"`
	Parameters  []ParameterDefinition `json:"parameters"`
}

// DiscoveredTool is a tool found by scanning the filesystem. The
// script body is not loaded eagerly; FileLocation is read at execution
// time.
type DiscoveredTool struct {
	Path         ToolPath              `json:"path"`
	Description  string                `json:"description"`
	FileLocation string                `json:"file_path"`
	Parameters   []ParameterDefinition `json:"parameters"`
}
