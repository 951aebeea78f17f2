// Package workflow models the observable states of a meal planning and
// ordering session and how each state is presented to the user.
package workflow

// Status is the backend agent's position in the planning/ordering process.
// The zero value means no status has been observed.
type Status string

const (
	Idle                          Status = "IDLE"
	Started                       Status = "STARTED"
	MealPlanningStarted           Status = "MEAL_PLANNING_STARTED"
	MealPlanningComplete          Status = "MEAL_PLANNING_COMPLETE"
	AwaitingUserApproval          Status = "AWAITING_USER_APPROVAL"
	UserApprovalReceived          Status = "USER_APPROVAL_RECEIVED"
	UserRejectionReceived         Status = "USER_REJECTION_RECEIVED"
	MealChoiceVerificationStarted Status = "MEAL_CHOICE_VERIFICATION_STARTED"
	PlacingOrder                  Status = "PLACING_ORDER"
	OrderExecutionStarted         Status = "ORDER_EXECUTION_STARTED"
	OrderConfirmed                Status = "ORDER_CONFIRMED"
	NoPlanningNeeded              Status = "NO_PLANNING_NEEDED"
	Completed                     Status = "COMPLETED"
	Error                         Status = "ERROR"
)

// All lists every known status in declaration order.
var All = []Status{
	Idle,
	Started,
	MealPlanningStarted,
	MealPlanningComplete,
	AwaitingUserApproval,
	UserApprovalReceived,
	UserRejectionReceived,
	MealChoiceVerificationStarted,
	PlacingOrder,
	OrderExecutionStarted,
	OrderConfirmed,
	NoPlanningNeeded,
	Completed,
	Error,
}

var known = func() map[Status]struct{} {
	m := make(map[Status]struct{}, len(All))
	for _, s := range All {
		m[s] = struct{}{}
	}
	return m
}()

// Parse converts a raw backend value into a Status. Unknown values are kept
// verbatim so they can still be logged and labelled; use Valid to check.
func Parse(raw string) Status {
	return Status(raw)
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	_, ok := known[s]
	return ok
}

// Terminal reports whether the client stops tracking a session in this state.
func (s Status) Terminal() bool {
	return s == OrderConfirmed
}

func (s Status) String() string {
	return string(s)
}

// transitions is the documented forward DAG. The backend does not strictly
// enforce it, so observations outside it are only diagnostics.
var transitions = map[Status][]Status{
	Idle:                  {MealPlanningStarted, NoPlanningNeeded},
	MealPlanningStarted:   {MealPlanningComplete},
	MealPlanningComplete:  {AwaitingUserApproval},
	AwaitingUserApproval:  {UserApprovalReceived, UserRejectionReceived},
	UserApprovalReceived:  {PlacingOrder},
	UserRejectionReceived: {MealPlanningStarted},
	PlacingOrder:          {OrderConfirmed},
}

// CanTransition reports whether from -> to is a documented forward edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
