package webhooks

// EventTypes is the fixed set of events a webhook may subscribe to.
var EventTypes = []string{
	"survey.created",
	"survey.updated",
	"survey.deleted",
	"survey.published",
	"survey.completed",
	"response.created",
	"response.updated",
	"response.submitted",
	"report.generated",
	"report.updated",
	"user.created",
	"user.updated",
	"user.deleted",
	"organization.created",
	"organization.updated",
	"analysis.started",
	"analysis.completed",
	"analysis.failed",
}

var eventTypeSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(EventTypes))
	for _, e := range EventTypes {
		set[e] = struct{}{}
	}
	return set
}()

func IsEventType(s string) bool {
	_, ok := eventTypeSet[s]
	return ok
}
