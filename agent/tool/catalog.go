package tool

import (
	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
)

const (
	ToolOnboardCustomer    = "customer.onboard"
	ToolMatchSpecialist    = "specialist.match"
	ToolCheckAvailability  = "appointment.check_availability"
	ToolBookAppointment    = "appointment.book"
	ToolSearchCaseStudies  = "casestudy.search"
	ToolSearchTestimonials = "testimonial.search"
	ToolSummarize          = "conversation.summarize"
)

const (
	CorpusCaseStudies  = "case_studies"
	CorpusTestimonials = "testimonials"
)

// Catalog declares every journey tool: the flags that must hold before it
// runs and the flags/identifiers its output may write. The guard and the
// registry both enforce this; nothing outside the declared effect sets ever
// reaches a session.
func Catalog() []contractx.ToolDescriptor {
	return []contractx.ToolDescriptor{
		{
			Name: ToolOnboardCustomer,
			Desc: "Create a customer profile from collected contact details. Requires explicit customer consent.",
			Params: map[string]contractx.ParamInfo{
				"company_name":    {Type: contractx.ParamString, Desc: "Company name", Required: true},
				"name":            {Type: contractx.ParamString, Desc: "Customer's full name", Required: true},
				"email":           {Type: contractx.ParamString, Desc: "Customer's email address", Required: true},
				"domain":          {Type: contractx.ParamString, Desc: "Customer's business domain"},
				"phone":           {Type: contractx.ParamString, Desc: "Customer's phone number"},
				"request_date":    {Type: contractx.ParamString, Desc: "Date of the request, YYYY-MM-DD"},
				"request_summary": {Type: contractx.ParamString, Desc: "Short summary of what the customer needs"},
			},
			ConsentGated:      true,
			EffectFlags:       []string{contractx.FlagOnboarded},
			EffectIdentifiers: []string{contractx.IdentCustomerID},
			Idempotency:       contractx.IdempotentSafe,
		},
		{
			Name: ToolMatchSpecialist,
			Desc: "Match the customer's needs to one specialist from the directory by domain and expertise.",
			Params: map[string]contractx.ParamInfo{
				"query": {Type: contractx.ParamString, Desc: "Natural language description of the expertise needed", Required: true},
			},
			EffectFlags:       []string{contractx.FlagSpecialistSelected},
			EffectIdentifiers: []string{contractx.IdentSpecialistID},
			Idempotency:       contractx.IdempotentSafe,
		},
		{
			Name: ToolCheckAvailability,
			Desc: "List open appointment slots for the selected specialist. Weekdays 11:00-18:00, lunch 14:00-15:00 excluded.",
			Params: map[string]contractx.ParamInfo{
				"start_date": {Type: contractx.ParamString, Desc: "Start date, YYYY-MM-DD; defaults to today"},
				"end_date":   {Type: contractx.ParamString, Desc: "End date, YYYY-MM-DD; defaults to 7 days out"},
			},
			Preconditions: []string{contractx.IdentSpecialistID},
			Idempotency:   contractx.IdempotentSafe,
		},
		{
			Name: ToolBookAppointment,
			Desc: "Book an appointment slot with the selected specialist for the onboarded customer.",
			Params: map[string]contractx.ParamInfo{
				"slot_datetime": {Type: contractx.ParamString, Desc: "Slot start, YYYY-MM-DD HH:MM:SS", Required: true},
				"reason":        {Type: contractx.ParamString, Desc: "Reason for the appointment", Required: true},
			},
			Preconditions:     []string{contractx.IdentCustomerID, contractx.IdentSpecialistID},
			EffectFlags:       []string{contractx.FlagAppointmentBooked},
			EffectIdentifiers: []string{contractx.IdentAppointmentID},
			Idempotency:       contractx.AtMostOnce,
		},
		{
			Name: ToolSearchCaseStudies,
			Desc: "Retrieve relevant case studies as proof points. Summarize only what is returned.",
			Params: map[string]contractx.ParamInfo{
				"query": {Type: contractx.ParamString, Desc: "What the customer wants evidence for", Required: true},
				"top_k": {Type: contractx.ParamInteger, Desc: "How many results to return"},
			},
			Idempotency: contractx.IdempotentSafe,
		},
		{
			Name: ToolSearchTestimonials,
			Desc: "Retrieve customer testimonials as social proof. Summarize only what is returned.",
			Params: map[string]contractx.ParamInfo{
				"query": {Type: contractx.ParamString, Desc: "Topic to find testimonials for", Required: true},
				"top_k": {Type: contractx.ParamInteger, Desc: "How many results to return"},
			},
			Idempotency: contractx.IdempotentSafe,
		},
		{
			Name:        ToolSummarize,
			Desc:        "Silently summarize the conversation into a structured lead record. Never mention this to the customer.",
			EffectFlags: []string{contractx.FlagLastSummaryTurn},
			Idempotency: contractx.IdempotentSafe,
		},
	}
}
