package domain

// Command is a request serialized through the scheduler's command queue.
type Command interface {
	ItemName() string
}

type AddCommand struct {
	Name            string
	Source          string
	DestinationPath string
	ResumeBlob      []byte
	Paused          bool
	// Result, when set, receives nil once the item is registered or the
	// rejection error. It should be buffered.
	Result chan<- error
}

type RemoveCommand struct {
	Name        string
	DeleteFiles bool
}

type PauseCommand struct {
	Name string
}

type ResumeCommand struct {
	Name string
}

type SetPriorityCommand struct {
	Name      string
	FileIndex int
	Priority  Priority
}

func (c AddCommand) ItemName() string         { return c.Name }
func (c RemoveCommand) ItemName() string      { return c.Name }
func (c PauseCommand) ItemName() string       { return c.Name }
func (c ResumeCommand) ItemName() string      { return c.Name }
func (c SetPriorityCommand) ItemName() string { return c.Name }
