package types

// WorkflowStage is a state of the dispatch workflow state machine
type WorkflowStage string

const (
	StageSearchSubscriber WorkflowStage = "search_subscriber"
	StageSelectAddress    WorkflowStage = "select_address"
	StageSelectService    WorkflowStage = "select_service"
	StageScheduling       WorkflowStage = "scheduling"
	StageSelectServiceman WorkflowStage = "select_serviceman"
	StageDispatched       WorkflowStage = "dispatched"
	StageScheduled        WorkflowStage = "scheduled"
)

// WorkflowPath identifies how the agent entered the serviceman selection
type WorkflowPath string

const (
	PathNewCall        WorkflowPath = "new_call"
	PathPlacedOrder    WorkflowPath = "placed_order"
	PathScheduledOrder WorkflowPath = "scheduled_order"
	PathRedispatch     WorkflowPath = "redispatch"
)

// WorkflowState is the explicit state of one in-progress dispatch workflow.
// It lives inside the tab's session state so a reload resumes it.
type WorkflowState struct {
	Stage              WorkflowStage       `json:"stage"`
	Path               WorkflowPath        `json:"path"`
	CallID             string              `json:"callId,omitempty"`
	TicketID           string              `json:"ticketId,omitempty"`
	OrderID            string              `json:"orderId,omitempty"`
	SourceOrderID      string              `json:"sourceOrderId,omitempty"`
	MemberID           string              `json:"memberId,omitempty"`
	AdminID            int64               `json:"adminId,omitempty"`
	CustomerName       string              `json:"customerName,omitempty"`
	PhoneNumber        string              `json:"phoneNumber,omitempty"`
	AddressID          string              `json:"addressId,omitempty"`
	Address            string              `json:"address,omitempty"`
	Category           string              `json:"category,omitempty"`
	Services           map[string][]string `json:"services,omitempty"`
	WorkNote           string              `json:"workNote,omitempty"`
	PreviousOrderID    string              `json:"previousOrderId,omitempty"`
	CancellationReason string              `json:"cancellationReason,omitempty"`
	ScheduledTime      string              `json:"scheduledTime,omitempty"`
	IsScheduledUpdate  bool                `json:"isScheduledUpdate,omitempty"`
	ServicemanID       string              `json:"servicemanId,omitempty"`
	Claimed            bool                `json:"claimed,omitempty"`

	// Submitting is set while a dispatch write is in flight. It is never
	// persisted so a restored tab can always retry.
	Submitting bool `json:"-"`
}
