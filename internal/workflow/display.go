package workflow

// Display is the headline shown for the current session.
type Display struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	IsActive bool   `json:"is_active"`
}

type presentation struct {
	display  Display
	progress int
	label    string
}

var noSession = presentation{
	display: Display{
		Title:    "No Active Session",
		Subtitle: "Start a meal plan from the Meals tab",
	},
}

var presentations = map[Status]presentation{
	Idle: noSession,
	Started: {
		display:  Display{Title: "Session Started", Subtitle: "The agent is waking up...", IsActive: true},
		progress: 10,
		label:    "Started",
	},
	MealPlanningStarted: {
		display:  Display{Title: "Planning Your Meal", Subtitle: "Finding options that match your preferences", IsActive: true},
		progress: 25,
		label:    "Planning Meal",
	},
	MealPlanningComplete: {
		display:  Display{Title: "Meal Options Ready", Subtitle: "Preparing choices for your review", IsActive: true},
		progress: 45,
		label:    "Options Ready",
	},
	AwaitingUserApproval: {
		display:  Display{Title: "Awaiting Your Approval", Subtitle: "The agent needs your input to continue", IsActive: true},
		progress: 55,
		label:    "Awaiting Approval",
	},
	UserApprovalReceived: {
		display:  Display{Title: "Choice Received", Subtitle: "Getting ready to place your order", IsActive: true},
		progress: 65,
		label:    "Approved",
	},
	UserRejectionReceived: {
		display:  Display{Title: "Finding New Options", Subtitle: "The agent is planning again based on your feedback", IsActive: true},
		progress: 30,
		label:    "Replanning",
	},
	MealChoiceVerificationStarted: {
		display:  Display{Title: "Verifying Your Choice", Subtitle: "Checking availability with the restaurant", IsActive: true},
		progress: 70,
		label:    "Verifying Choice",
	},
	PlacingOrder: {
		display:  Display{Title: "Placing Your Order", Subtitle: "Sending your order to the restaurant", IsActive: true},
		progress: 85,
		label:    "Placing Order",
	},
	OrderExecutionStarted: {
		display:  Display{Title: "Placing Your Order", Subtitle: "Sending your order to the restaurant", IsActive: true},
		progress: 85,
		label:    "Placing Order",
	},
	OrderConfirmed: {
		display:  Display{Title: "Order Confirmed! 🎉", Subtitle: "Your meal has been successfully ordered"},
		progress: 100,
		label:    "Order Confirmed",
	},
	NoPlanningNeeded: {
		display:  Display{Title: "Nothing To Plan", Subtitle: "No meal needs planning right now"},
		progress: 100,
		label:    "No Planning Needed",
	},
	Completed: {
		display:  Display{Title: "Session Complete", Subtitle: "The agent has finished this session"},
		progress: 100,
		label:    "Completed",
	},
	Error: {
		display:  Display{Title: "Something Went Wrong", Subtitle: "The agent ran into a problem with this session"},
		progress: 0,
		label:    "Error",
	},
}

func presentationFor(s Status) presentation {
	if p, ok := presentations[s]; ok {
		return p
	}
	return noSession
}

// DisplayFor returns the headline for a status. Unknown or missing statuses
// map to the idle "No Active Session" headline.
func DisplayFor(s Status) Display {
	return presentationFor(s).display
}

// ProgressFor returns the completion percentage in [0,100] for a status.
func ProgressFor(s Status) int {
	return presentationFor(s).progress
}

// Label is the short tag shown next to a session in the history list.
func Label(s Status) string {
	if p, ok := presentations[s]; ok && p.label != "" {
		return p.label
	}
	if s == "" {
		return "Unknown"
	}
	return string(s)
}
