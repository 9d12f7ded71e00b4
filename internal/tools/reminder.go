package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

type reminderArgs struct {
	CustomerResponse string `json:"customer_response"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	DueDateTime      string `json:"due_date_time"`
	Owner            string `json:"owner"`
}

// Title is the stable key a reminder is addressed by, matching
// new_or_updated_reminder's upsert-by-title behavior in llm_tools.py —
// adopted over a literal numeric-index signature because a numeric index
// into an append-only list is unstable once any reminder has been added or
// removed earlier in the call.
func findReminder(call *callmodel.Call, title string) int {
	for i := range call.Reminders {
		if call.Reminders[i].Title == title {
			return i
		}
	}
	return -1
}

func parseReminderArgs(rawArgs json.RawMessage) (reminderArgs, callmodel.Reminder, error) {
	var args reminderArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return args, callmodel.Reminder{}, err
	}
	dueAt, err := callmodel.ParseClaimDateTime(args.DueDateTime)
	if err != nil {
		return args, callmodel.Reminder{}, fmt.Errorf("due_date_time %q: %w", args.DueDateTime, err)
	}
	owner := callmodel.ReminderOwnerAssistant
	if args.Owner != "" {
		owner = callmodel.ReminderOwner(args.Owner)
	}
	return args, callmodel.Reminder{
		Title:       args.Title,
		Description: args.Description,
		DueAt:       dueAt,
		Owner:       owner,
	}, nil
}

// newReminderDescriptor ports the creation half of new_or_updated_reminder.
func (r *Registry) newReminderDescriptor() Descriptor {
	return Descriptor{
		Name:        "new_reminder",
		Description: "Create a reminder for something important to follow up on later. Title must be unique; use it to address this reminder again later.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
			"title":              stringProp("Short unique title, 'Verb + Subject' form, e.g. 'Call back customer'."),
			"description":        stringProp("Enough detail that anyone could act on this without more context."),
			"due_date_time":      stringProp("When this should be triggered, in the future, ISO-8601 or 'YYYY-MM-DD HH:MM'."),
			"owner":              stringProp("Who is responsible: 'assistant', 'human', or a named third party."),
		}, "customer_response", "title", "description", "due_date_time", "owner"),
		Serializes: true,
		Handler: func(_ context.Context, call *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			args, reminder, err := parseReminderArgs(rawArgs)
			if err != nil {
				return Result{}, fmt.Errorf("tools: new_reminder: %w", err)
			}
			if findReminder(call, args.Title) >= 0 {
				return Result{Content: fmt.Sprintf("A reminder titled %q already exists; use updated_reminder instead.", args.Title)}, nil
			}
			reminder.CreatedAt = time.Now().UTC()
			call.Reminders = append(call.Reminders, reminder)
			return Result{
				Content:   fmt.Sprintf("Reminder %q created.", args.Title),
				SpokenAck: args.CustomerResponse,
			}, nil
		},
	}
}

// updatedReminderDescriptor ports the update half of new_or_updated_reminder.
func (r *Registry) updatedReminderDescriptor() Descriptor {
	return Descriptor{
		Name:        "updated_reminder",
		Description: "Update an existing reminder, addressed by its title, with new details.",
		Parameters: objectSchema(map[string]any{
			"customer_response": stringProp(customerResponseDescription),
			"title":              stringProp("Title of the existing reminder to update."),
			"description":        stringProp("Replacement description."),
			"due_date_time":      stringProp("Replacement due date/time, in the future, ISO-8601 or 'YYYY-MM-DD HH:MM'."),
			"owner":              stringProp("Replacement owner: 'assistant', 'human', or a named third party."),
		}, "customer_response", "title", "description", "due_date_time", "owner"),
		Serializes: true,
		Handler: func(_ context.Context, call *callmodel.Call, rawArgs json.RawMessage) (Result, error) {
			args, reminder, err := parseReminderArgs(rawArgs)
			if err != nil {
				return Result{}, fmt.Errorf("tools: updated_reminder: %w", err)
			}
			idx := findReminder(call, args.Title)
			if idx < 0 {
				return Result{Content: fmt.Sprintf("No reminder titled %q exists; use new_reminder instead.", args.Title)}, nil
			}
			reminder.CreatedAt = call.Reminders[idx].CreatedAt
			call.Reminders[idx] = reminder
			return Result{
				Content:   fmt.Sprintf("Reminder %q updated.", args.Title),
				SpokenAck: args.CustomerResponse,
			}, nil
		},
	}
}
