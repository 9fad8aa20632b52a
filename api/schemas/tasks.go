package schemas

// -- Task Classification --

// TaskType is the task family derived from a prompt.
type TaskType string

const (
	TaskLogin     TaskType = "login"
	TaskRegister  TaskType = "register"
	TaskForm      TaskType = "form"
	TaskClick     TaskType = "click"
	TaskTypeText  TaskType = "type"
	TaskSearch    TaskType = "search"
	TaskFilter    TaskType = "filter"
	TaskModify    TaskType = "modify"
	TaskExtract   TaskType = "extract"
	TaskBooking   TaskType = "booking"
	TaskJobApply  TaskType = "job_apply"
	TaskJobView   TaskType = "job_view"
	TaskJobSearch TaskType = "job_search"
	TaskComment   TaskType = "comment"
	TaskSocial    TaskType = "social"
	TaskCalendar  TaskType = "calendar"
	TaskMultiStep TaskType = "multi_step"
	TaskGeneric   TaskType = "generic"
)

func (t TaskType) String() string { return string(t) }

// Credentials extracted from a prompt. Empty fields mean "not given".
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
}

// IsZero reports whether no credential was found.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Email == ""
}

// ParsedTask is everything derived from one prompt. It is built once per
// request and treated as read-only afterwards.
type ParsedTask struct {
	Prompt        string            `json:"prompt"`
	URL           string            `json:"url,omitempty"`
	URLInferred   bool              `json:"url_inferred,omitempty"`
	Credentials   Credentials       `json:"credentials"`
	TextToType    string            `json:"text_to_type,omitempty"`
	TargetElement string            `json:"target_element,omitempty"`
	TaskType      TaskType          `json:"task_type"`
	Filters       map[string]string `json:"filters,omitempty"`
	// FormFields holds labeled field values, e.g. {"email": "a@b.c"}.
	FormFields map[string]string `json:"form_fields,omitempty"`
	Keywords   []string          `json:"keywords,omitempty"`
}

// -- Page Context --

// PageType classifies the page a task runs against.
type PageType string

const (
	PageLogin     PageType = "login"
	PageRegister  PageType = "register"
	PageForm      PageType = "form"
	PageDashboard PageType = "dashboard"
	PageSearch    PageType = "search"
	PageListing   PageType = "listing"
	PageDetail    PageType = "detail"
	PageCheckout  PageType = "checkout"
	PageProfile   PageType = "profile"
	PageHome      PageType = "home"
	PageUnknown   PageType = "unknown"
)

// PageContext is derived from (url, prompt).
type PageContext struct {
	PageType           PageType `json:"page_type"`
	ActionContext      string   `json:"action_context"`
	RequiresNavigation bool     `json:"requires_navigation"`
	IsLoginPage        bool     `json:"is_login_page"`
	IsFormPage         bool     `json:"is_form_page"`
	IsSearchPage       bool     `json:"is_search_page"`
	IsAjaxHeavy        bool     `json:"is_ajax_heavy"`
	IsSlowPage         bool     `json:"is_slow_page"`
}

// -- Strategy --

type ScreenshotFrequency string

const (
	ScreenshotsAlways         ScreenshotFrequency = "always"
	ScreenshotsAfterImportant ScreenshotFrequency = "after_important"
	ScreenshotsMinimal        ScreenshotFrequency = "minimal"
)

type SelectorStrategy string

const (
	SelectorsAggressive   SelectorStrategy = "aggressive"
	SelectorsBalanced     SelectorStrategy = "balanced"
	SelectorsConservative SelectorStrategy = "conservative"
)

type RetryStrategy string

const (
	RetryNone     RetryStrategy = "none"
	RetryOnce     RetryStrategy = "once"
	RetryMultiple RetryStrategy = "multiple"
)

// Strategy steers generation and optimization for one request.
type Strategy struct {
	WaitAfterNavigation float64             `json:"wait_after_navigation"`
	WaitBetweenActions  float64             `json:"wait_between_actions"`
	ScreenshotFrequency ScreenshotFrequency `json:"screenshot_frequency"`
	SelectorStrategy    SelectorStrategy    `json:"selector_strategy"`
	RetryStrategy       RetryStrategy       `json:"retry_strategy"`
	// Verify enables post-action verification waits and screenshots.
	Verify bool `json:"verify"`
	// Site is the detected website name, empty when unknown.
	Site string `json:"site,omitempty"`
}

// DefaultStrategy is used when nothing more specific is known.
func DefaultStrategy() Strategy {
	return Strategy{
		WaitAfterNavigation: 1.5,
		WaitBetweenActions:  0.5,
		ScreenshotFrequency: ScreenshotsAfterImportant,
		SelectorStrategy:    SelectorsBalanced,
		RetryStrategy:       RetryOnce,
		Verify:              true,
	}
}
