package jobs

// Status is a per-experience job outcome.
type Status string

const (
	StatusPosted            Status = "posted"
	StatusAlreadyPosted     Status = "already_posted"
	StatusProcessed         Status = "processed"
	StatusNoChannel         Status = "no_channel"
	StatusNoPromptYesterday Status = "no_prompt_yesterday"
	StatusNoMessages        Status = "no_messages"
	StatusError             Status = "error"
)

// ExperienceResult reports one experience's outcome within a job run.
type ExperienceResult struct {
	ExperienceID   string `json:"experienceId"`
	Status         Status `json:"status"`
	Prompt         string `json:"prompt,omitempty"`
	UsersActive    int    `json:"usersActive,omitempty"`
	StreaksUpdated int    `json:"streaksUpdated,omitempty"`
	RewardsIssued  int    `json:"rewardsIssued,omitempty"`
	StreaksReset   int    `json:"streaksReset,omitempty"`
	TopPerformers  int    `json:"topPerformers,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RunSummary is the JSON body returned to the scheduler after a job run.
type RunSummary struct {
	Success bool               `json:"success"`
	Date    string             `json:"date,omitempty"`
	Results []ExperienceResult `json:"results"`
}

func errorResult(experienceID string, err error) ExperienceResult {
	return ExperienceResult{
		ExperienceID: experienceID,
		Status:       StatusError,
		Error:        err.Error(),
	}
}
