package v1

// Command names carried in the "command" field.
const (
	CommandDetectBank      = "DetectBank"
	CommandGetStatus       = "GetStatus"
	CommandSetDesiredBank  = "SetDesiredBank"
	CommandUpdate          = "Update"
	CommandFormatOtherBank = "FormatOtherBank"
	CommandSetBankOk       = "SetBankOk"
	CommandCopyConfig      = "CopyConfig"
)

// Command is the decoded form of every request. Fields that a variant does not use
// stay nil.
type Command struct {
	Command string `json:"command"`

	// Bank is the bank for SetDesiredBank, and the optional explicit target for Update.
	// It is kept as a string so that bad identifiers reach validation.
	// +optional
	Bank *string `json:"bank,omitempty"`

	// FromURL is the artifact location for Update: http(s):// or s3://bucket/key.
	// +optional
	FromURL *string `json:"from_url,omitempty"`

	// Username and Password must be given together or not at all.
	// +optional
	Username *string `json:"username,omitempty"`
	// +optional
	Password *string `json:"password,omitempty"`
}

// UpdateCommand is the caller-side encoding of Update. Credentials are always present,
// null when unused.
type UpdateCommand struct {
	Command  string  `json:"command"`
	FromURL  string  `json:"from_url"`
	Username *string `json:"username"`
	Password *string `json:"password"`

	// +optional
	Bank *string `json:"bank,omitempty"`
}

// SetDesiredBankCommand is the caller-side encoding of SetDesiredBank.
type SetDesiredBankCommand struct {
	Command string `json:"command"`
	Bank    string `json:"bank"`
}

// NewCommand returns a command that carries no arguments.
func NewCommand(name string) *Command {
	return &Command{Command: name}
}

func NewSetDesiredBank(bank string) *SetDesiredBankCommand {
	return &SetDesiredBankCommand{Command: CommandSetDesiredBank, Bank: bank}
}

func NewUpdate(fromURL string, username, password *string) *UpdateCommand {
	return &UpdateCommand{
		Command:  CommandUpdate,
		FromURL:  fromURL,
		Username: username,
		Password: password,
	}
}

// ReadOnly reports whether a command never mutates controller state.
func ReadOnly(name string) bool {
	return name == CommandDetectBank || name == CommandGetStatus
}
