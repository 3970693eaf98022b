package llm

// Names of the repository tools the model may request. The gateway declares
// the schema and parses call requests; it never executes them.
const (
	ToolListFiles    = "list_files"
	ToolReadFile     = "read_file"
	ToolCreateChange = "create_change"
)

type toolDecl struct {
	FunctionDeclarations []functionDeclaration `json:"function_declarations"`
}

type functionDeclaration struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  *paramsSchema `json:"parameters,omitempty"`
}

type paramsSchema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func repositoryTools() []functionDeclaration {
	return []functionDeclaration{
		{
			Name:        ToolListFiles,
			Description: "List every file path in the connected repository.",
		},
		{
			Name:        ToolReadFile,
			Description: "Read the content of one file in the connected repository.",
			Parameters: &paramsSchema{
				Type: "object",
				Properties: map[string]property{
					"path": {Type: "string", Description: "Repository-relative file path."},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        ToolCreateChange,
			Description: "Propose a change to one file as a reviewable pull request.",
			Parameters: &paramsSchema{
				Type: "object",
				Properties: map[string]property{
					"path":        {Type: "string", Description: "Repository-relative file path to create or update."},
					"content":     {Type: "string", Description: "Full new content of the file."},
					"description": {Type: "string", Description: "Short human-readable description of the change."},
				},
				Required: []string{"path", "content", "description"},
			},
		},
	}
}
