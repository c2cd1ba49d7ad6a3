package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/internal/trigger"
	"pkt.systems/mudgate/internal/version"
	"pkt.systems/mudgate/schema"
)

// Handler routes operator commands to service operations. Everything it
// prints goes back to the issuing client only, through the internal
// formatting path.
type Handler struct {
	service *core.Service
}

// NewHandler constructs a command handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{service: service}
}

// Handle inspects input and executes operator commands. It returns true when
// the input was consumed and must not be forwarded upstream.
func (h *Handler) Handle(ctx context.Context, clientID schema.ClientID, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	log := logx.WithClient(ctx, clientID).With("command", cmd.Name, "args", len(cmd.Args))
	log.Info("command request")
	switch cmd.Name {
	case "":
		log.Warn("command rejected", "reason", "empty")
		return true, fmt.Errorf("invalid command")
	case "help":
		return true, h.handleHelp(ctx, clientID)
	case "triggers":
		return true, h.handleTriggers(ctx, clientID)
	case "trigger":
		return true, h.handleTrigger(ctx, clientID, cmd)
	case "events":
		return true, h.handleEvents(ctx, clientID)
	case "event":
		return true, h.handleEvent(ctx, clientID, cmd)
	case "enable":
		return true, h.handleSetEnabled(ctx, clientID, cmd, true)
	case "disable":
		return true, h.handleSetEnabled(ctx, clientID, cmd, false)
	case "rm":
		return true, h.handleRemove(ctx, clientID, cmd)
	case "group":
		return true, h.handleGroup(ctx, clientID, cmd)
	case "recent":
		return true, h.handleRecent(ctx, clientID)
	case "version":
		return true, h.handleVersion(ctx, clientID)
	default:
		log.Warn("command rejected", "reason", "unknown")
		return true, fmt.Errorf("unknown command: #%s", cmd.Name)
	}
}

func (h *Handler) reply(ctx context.Context, clientID schema.ClientID, lines []string) {
	h.service.SendInternal(ctx, lines, core.RecordOptions{
		Clients: []schema.ClientID{clientID},
	}, "command")
}

func (h *Handler) handleHelp(ctx context.Context, clientID schema.ClientID) error {
	h.reply(ctx, clientID, []string{
		"#triggers                     list triggers",
		"#trigger <owner> <name>       trigger detail",
		"#events                       list events",
		"#event <name>                 event detail",
		"#enable <owner> <name>        enable trigger",
		"#disable <owner> <name>       disable trigger",
		"#rm <owner> <name> [force]    remove trigger",
		"#group <name> on|off          toggle trigger group",
		"#recent                       recent pipeline records",
		"#version                      version info",
	})
	logx.WithClient(ctx, clientID).Info("command help completed")
	return nil
}

func (h *Handler) handleTriggers(ctx context.Context, clientID schema.ClientID) error {
	details := h.service.Triggers().List()
	if len(details) == 0 {
		h.reply(ctx, clientID, []string{"no triggers"})
		return nil
	}
	lines := make([]string, 0, len(details))
	for _, d := range details {
		state := "on"
		if !d.Enabled {
			state = "off"
		}
		flags := triggerFlags(d)
		lines = append(lines, fmt.Sprintf("%-30s p%-4d %-3s hits=%-5d %s", d.ID, d.Priority, state, d.Hits, flags))
	}
	h.reply(ctx, clientID, lines)
	logx.WithClient(ctx, clientID).Info("command triggers completed", "count", len(details))
	return nil
}

func (h *Handler) handleTrigger(ctx context.Context, clientID schema.ClientID, cmd Command) error {
	owner, name, err := ownerName(cmd)
	if err != nil {
		return err
	}
	d, err := h.service.Triggers().Trigger(schema.MakeTriggerID(owner, name))
	if err != nil {
		return err
	}
	state := "enabled"
	if !d.Enabled {
		state = "disabled"
	}
	lines := []string{
		fmt.Sprintf("trigger %s (%s)", d.ID, state),
		fmt.Sprintf("  pattern:  %s", d.Pattern),
		fmt.Sprintf("  owner:    %s", d.Owner),
		fmt.Sprintf("  priority: %d", d.Priority),
		fmt.Sprintf("  bucket:   %s", d.BucketID),
		fmt.Sprintf("  hits:     %d", d.Hits),
		fmt.Sprintf("  handlers: %d", d.Handlers),
	}
	if d.Group != "" {
		lines = append(lines, fmt.Sprintf("  group:    %s", d.Group))
	}
	if flags := triggerFlags(d); flags != "" {
		lines = append(lines, fmt.Sprintf("  flags:    %s", flags))
	}
	h.reply(ctx, clientID, lines)
	logx.WithClient(ctx, clientID).Info("command trigger completed", "trigger", d.ID)
	return nil
}

func (h *Handler) handleEvents(ctx context.Context, clientID schema.ClientID) error {
	details := h.service.Bus().List()
	if len(details) == 0 {
		h.reply(ctx, clientID, []string{"no events"})
		return nil
	}
	lines := make([]string, 0, len(details))
	for _, d := range details {
		lines = append(lines, fmt.Sprintf("%-40s raised=%-7d handlers=%d", d.Name, d.Raised, len(d.Handlers)))
	}
	h.reply(ctx, clientID, lines)
	logx.WithClient(ctx, clientID).Info("command events completed", "count", len(details))
	return nil
}

func (h *Handler) handleEvent(ctx context.Context, clientID schema.ClientID, cmd Command) error {
	if len(cmd.Args) < 1 {
		return fmt.Errorf("usage: #event <name>")
	}
	d := h.service.Bus().Detail(schema.EventName(cmd.Args[0]))
	lines := []string{
		fmt.Sprintf("event %s raised=%d", d.Name, d.Raised),
	}
	for _, handler := range d.Handlers {
		lines = append(lines, fmt.Sprintf("  p%-4d %s/%s fired=%d", handler.Priority, handler.Owner, handler.Name, handler.Fired))
	}
	h.reply(ctx, clientID, lines)
	logx.WithClient(ctx, clientID).Info("command event completed", "event", d.Name)
	return nil
}

func (h *Handler) handleSetEnabled(ctx context.Context, clientID schema.ClientID, cmd Command, enabled bool) error {
	owner, name, err := ownerName(cmd)
	if err != nil {
		return err
	}
	if enabled {
		h.service.Triggers().Enable(name, owner)
	} else {
		h.service.Triggers().Disable(name, owner)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	h.reply(ctx, clientID, []string{fmt.Sprintf("trigger %s %s", schema.MakeTriggerID(owner, name), state)})
	return nil
}

func (h *Handler) handleRemove(ctx context.Context, clientID schema.ClientID, cmd Command) error {
	owner, name, err := ownerName(cmd)
	if err != nil {
		return err
	}
	force := len(cmd.Args) > 2 && cmd.Args[2] == "force"
	if err := h.service.Triggers().Remove(name, owner, force); err != nil {
		return err
	}
	h.reply(ctx, clientID, []string{fmt.Sprintf("trigger %s removed", schema.MakeTriggerID(owner, name))})
	return nil
}

func (h *Handler) handleGroup(ctx context.Context, clientID schema.ClientID, cmd Command) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("usage: #group <name> on|off")
	}
	var enabled bool
	switch cmd.Args[1] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("usage: #group <name> on|off")
	}
	changed := h.service.Triggers().SetGroupEnabled(cmd.Args[0], enabled)
	h.reply(ctx, clientID, []string{fmt.Sprintf("group %s: %d trigger(s) changed", cmd.Args[0], changed)})
	return nil
}

func (h *Handler) handleRecent(ctx context.Context, clientID schema.ClientID) error {
	records := h.service.Recent()
	if len(records) == 0 {
		h.reply(ctx, clientID, []string{"no records"})
		return nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		marker := "+"
		if !rec.Deliverable() {
			marker = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %s", marker, strings.TrimRight(rec.Text(), "\r\n")))
	}
	h.reply(ctx, clientID, lines)
	return nil
}

func (h *Handler) handleVersion(ctx context.Context, clientID schema.ClientID) error {
	h.reply(ctx, clientID, []string{fmt.Sprintf("%s %s", version.Module(), version.Current())})
	logx.WithClient(ctx, clientID).Info("command version completed")
	return nil
}

func triggerFlags(d trigger.Detail) string {
	flags := make([]string, 0, 3)
	if d.Omit {
		flags = append(flags, "omit")
	}
	if d.StopEvaluating {
		flags = append(flags, "stop")
	}
	if d.MatchWithColor {
		flags = append(flags, "color")
	}
	return strings.Join(flags, ",")
}

func ownerName(cmd Command) (schema.OwnerID, schema.TriggerName, error) {
	if len(cmd.Args) < 2 {
		return "", "", fmt.Errorf("usage: #%s <owner> <name>", cmd.Name)
	}
	return schema.OwnerID(strings.ToLower(cmd.Args[0])), schema.TriggerName(strings.ToLower(cmd.Args[1])), nil
}
