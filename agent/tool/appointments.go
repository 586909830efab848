package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	statex "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/state"
)

const (
	slotMinutes      = 30
	availabilityDays = 7
	maxRangeDays     = 31

	dateLayout     = "2006-01-02"
	slotTimeLayout = "2006-01-02 15:04:05"
)

// Booking hours are weekdays 11:00-18:00 with 14:00-15:00 held for lunch.
var bookableHours = [...]int{11, 12, 13, 15, 16, 17}

type Slot struct {
	SlotID          string    `json:"slot_id"`
	SpecialistID    string    `json:"specialist_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// openSlots generates the free half-hour slots for a specialist over
// [from, to), skipping anything marked taken.
func openSlots(specialistID string, from, to time.Time, taken map[int64]bool) []Slot {
	var slots []Slot
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for _, hour := range bookableHours {
			for _, minute := range [...]int{0, slotMinutes} {
				start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
				if start.Before(from) || !start.Before(to) {
					continue
				}
				if taken[start.Unix()] {
					continue
				}
				slots = append(slots, Slot{
					SlotID:          fmt.Sprintf("SLOT-%s-%s", specialistID, start.Format("200601021504")),
					SpecialistID:    specialistID,
					StartsAt:        start,
					DurationMinutes: slotMinutes,
				})
			}
		}
	}
	return slots
}

// validateSlotStart rejects slot starts outside the bookable grid. The
// messages feed back to the model as corrective notes, so they spell out the
// rule that was broken.
func validateSlotStart(start time.Time) error {
	if start.Weekday() == time.Saturday || start.Weekday() == time.Sunday {
		return fmt.Errorf("%w: appointments are available on weekdays only", contractx.ErrInvalidArguments)
	}
	if start.Hour() == 14 {
		return fmt.Errorf("%w: 14:00-15:00 is reserved for lunch", contractx.ErrInvalidArguments)
	}
	if start.Hour() < 11 || start.Hour() >= 18 {
		return fmt.Errorf("%w: booking hours are 11:00-18:00", contractx.ErrInvalidArguments)
	}
	if start.Minute() != 0 && start.Minute() != slotMinutes {
		return fmt.Errorf("%w: slots start on the hour or half hour", contractx.ErrInvalidArguments)
	}
	if start.Second() != 0 || start.Nanosecond() != 0 {
		return fmt.Errorf("%w: slots start on the hour or half hour", contractx.ErrInvalidArguments)
	}
	return nil
}

func (r *Registry) execCheckAvailability(ctx context.Context, sess *statex.Session, args map[string]any) (contractx.ToolOutput, error) {
	specialistID, ok := sess.Identifier(contractx.IdentSpecialistID)
	if !ok {
		return contractx.ToolOutput{}, fmt.Errorf("%w: no specialist selected", contractx.ErrPreconditionFailed)
	}

	now := r.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if raw, err := stringArg(args, "start_date", false); err != nil {
		return contractx.ToolOutput{}, err
	} else if raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return contractx.ToolOutput{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", contractx.ErrInvalidArguments)
		}
		from = parsed
	}

	to := from.AddDate(0, 0, availabilityDays)
	if raw, err := stringArg(args, "end_date", false); err != nil {
		return contractx.ToolOutput{}, err
	} else if raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return contractx.ToolOutput{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", contractx.ErrInvalidArguments)
		}
		// End date is inclusive from the customer's point of view.
		to = parsed.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return contractx.ToolOutput{}, fmt.Errorf("%w: end_date is before start_date", contractx.ErrInvalidArguments)
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return contractx.ToolOutput{}, fmt.Errorf("%w: availability range is limited to %d days", contractx.ErrInvalidArguments, maxRangeDays)
	}

	taken, err := r.backend.BookedSlots(ctx, specialistID, from, to)
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: load booked slots: %v", contractx.ErrExternalService, err)
	}

	slots := openSlots(specialistID, from, to, taken)
	return contractx.ToolOutput{
		Content: map[string]any{
			"specialist_id": specialistID,
			"from":          from.Format(dateLayout),
			"to":            to.AddDate(0, 0, -1).Format(dateLayout),
			"slots":         slots,
		},
	}, nil
}

func (r *Registry) execBook(ctx context.Context, sess *statex.Session, turnIndex int, args map[string]any) (contractx.ToolOutput, error) {
	// Identifiers come from session state only; the model never supplies
	// customer or specialist ids to a booking.
	customerID, ok := sess.Identifier(contractx.IdentCustomerID)
	if !ok {
		return contractx.ToolOutput{}, fmt.Errorf("%w: customer is not onboarded", contractx.ErrPreconditionFailed)
	}
	specialistID, ok := sess.Identifier(contractx.IdentSpecialistID)
	if !ok {
		return contractx.ToolOutput{}, fmt.Errorf("%w: no specialist selected", contractx.ErrPreconditionFailed)
	}

	rawSlot, err := stringArg(args, "slot_datetime", true)
	if err != nil {
		return contractx.ToolOutput{}, err
	}
	reason, err := stringArg(args, "reason", true)
	if err != nil {
		return contractx.ToolOutput{}, err
	}

	start, err := time.ParseInLocation(slotTimeLayout, rawSlot, time.UTC)
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: slot_datetime must be YYYY-MM-DD HH:MM:SS", contractx.ErrInvalidArguments)
	}
	if err := validateSlotStart(start); err != nil {
		return contractx.ToolOutput{}, err
	}

	appt, err := r.backend.BookAppointment(ctx, BookingRequest{
		CustomerID:   customerID,
		SpecialistID: specialistID,
		StartsAt:     start,
		Reason:       reason,
		DedupToken:   dedupToken(sess.SessionID, turnIndex),
	})
	if errors.Is(err, ErrSlotTaken) {
		return contractx.ToolOutput{}, fmt.Errorf("%w: the %s slot is already booked, pick another", contractx.ErrInvalidArguments, rawSlot)
	}
	if err != nil {
		return contractx.ToolOutput{}, fmt.Errorf("%w: book appointment: %v", contractx.ErrExternalService, err)
	}

	return contractx.ToolOutput{
		Content: appt,
		Flags: map[string]any{
			contractx.FlagAppointmentBooked: true,
		},
		Identifiers: map[string]string{
			contractx.IdentAppointmentID: appt.AppointmentID,
		},
	}, nil
}
