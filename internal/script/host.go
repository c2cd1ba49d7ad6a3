package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"pkt.systems/mudgate/core"
	"pkt.systems/mudgate/internal/eventbus"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/internal/trigger"
	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// Host loads Lua plugin files and exposes the pipeline to them through a
// small "mud" module. Each script runs as its own owner, so unloading one
// drops every trigger and handler it registered in a single step.
//
// gopher-lua states are not goroutine-safe; each script's state is guarded
// by a per-script mutex and only entered from handler callbacks and
// load/unload.
type Host struct {
	service *core.Service
	log     pslog.Logger

	mu      sync.Mutex
	scripts map[schema.OwnerID]*script
}

type script struct {
	owner schema.OwnerID
	path  string

	mu    sync.Mutex
	state *lua.LState
}

// NewHost constructs a script host bound to the service.
func NewHost(service *core.Service, logger pslog.Logger) *Host {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Host{
		service: service,
		log:     logger,
		scripts: make(map[schema.OwnerID]*script),
	}
}

// Load reads and executes one Lua file. The script's owner id derives from
// the file name, so two scripts with the same base name cannot coexist.
func (h *Host) Load(ctx context.Context, path string) (schema.OwnerID, error) {
	owner, err := ownerFromPath(path)
	if err != nil {
		return "", err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	if _, exists := h.scripts[owner]; exists {
		h.mu.Unlock()
		return "", fmt.Errorf("script %s already loaded", owner)
	}
	sc := &script{owner: owner, path: path, state: lua.NewState()}
	h.scripts[owner] = sc
	h.mu.Unlock()

	sc.mu.Lock()
	h.installAPI(ctx, sc)
	err = sc.state.DoString(string(src))
	sc.mu.Unlock()
	if err != nil {
		h.unload(ctx, owner)
		return "", fmt.Errorf("script %s: %w", owner, err)
	}
	logx.WithOwner(ctx, owner).Info("script loaded", "path", path)
	return owner, nil
}

// LoadAll loads every listed file, stopping at the first failure.
func (h *Host) LoadAll(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if _, err := h.Load(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// Unload removes one script and everything it registered.
func (h *Host) Unload(ctx context.Context, owner schema.OwnerID) error {
	h.mu.Lock()
	_, exists := h.scripts[owner]
	h.mu.Unlock()
	if !exists {
		return fmt.Errorf("script %s not loaded", owner)
	}
	h.unload(ctx, owner)
	return nil
}

// Close unloads every script.
func (h *Host) Close(ctx context.Context) {
	h.mu.Lock()
	owners := make([]schema.OwnerID, 0, len(h.scripts))
	for owner := range h.scripts {
		owners = append(owners, owner)
	}
	h.mu.Unlock()
	for _, owner := range owners {
		h.unload(ctx, owner)
	}
}

// Scripts returns the owners of the loaded scripts.
func (h *Host) Scripts() []schema.OwnerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schema.OwnerID, 0, len(h.scripts))
	for owner := range h.scripts {
		out = append(out, owner)
	}
	return out
}

func (h *Host) unload(ctx context.Context, owner schema.OwnerID) {
	h.mu.Lock()
	sc := h.scripts[owner]
	delete(h.scripts, owner)
	h.mu.Unlock()
	if sc == nil {
		return
	}
	handlers, triggers := h.service.RemoveOwner(ctx, owner)
	sc.mu.Lock()
	sc.state.Close()
	sc.mu.Unlock()
	logx.WithOwner(ctx, owner).Info("script unloaded", "handlers", handlers, "triggers", triggers)
}

// installAPI registers the mud module in the script's state. Must hold sc.mu.
func (h *Host) installAPI(ctx context.Context, sc *script) {
	L := sc.state
	mod := L.NewTable()
	L.SetGlobal("mud", mod)
	L.SetField(mod, "trigger", L.NewFunction(h.luaTrigger(ctx, sc)))
	L.SetField(mod, "on", L.NewFunction(h.luaOn(ctx, sc)))
	L.SetField(mod, "send", L.NewFunction(h.luaSend(ctx, sc)))
	L.SetField(mod, "log", L.NewFunction(h.luaLog(ctx, sc)))
}

// mud.trigger{name=..., pattern=..., priority=..., omit=..., group=...,
// stop=..., color=..., disabled=...} returns the trigger's event name.
func (h *Host) luaTrigger(ctx context.Context, sc *script) lua.LGFunction {
	return func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		req := trigger.AddRequest{
			Owner:          sc.owner,
			Name:           schema.TriggerName(stringField(tbl, "name")),
			Pattern:        stringField(tbl, "pattern"),
			Group:          stringField(tbl, "group"),
			Omit:           boolField(tbl, "omit"),
			Disabled:       boolField(tbl, "disabled"),
			StopEvaluating: boolField(tbl, "stop"),
			MatchWithColor: boolField(tbl, "color"),
			Priority:       intField(tbl, "priority"),
		}
		eventName, err := h.service.Triggers().Add(req)
		if err != nil {
			L.RaiseError("trigger: %v", err)
			return 0
		}
		L.Push(lua.LString(eventName))
		return 1
	}
}

// mud.on(event, name, fn) registers a bus handler backed by a Lua function.
// The function receives an args table and may return {rewrite=..., omit=...}.
func (h *Host) luaOn(ctx context.Context, sc *script) lua.LGFunction {
	return func(L *lua.LState) int {
		eventName := schema.EventName(L.CheckString(1))
		handlerName := L.CheckString(2)
		fn := L.CheckFunction(3)
		priority := 0
		if L.GetTop() >= 4 {
			priority = int(L.CheckNumber(4))
		}
		err := h.service.Bus().Register(eventName, eventbus.Registration{
			Owner:    sc.owner,
			Name:     handlerName,
			Priority: priority,
			Fn:       h.luaHandler(sc, fn),
		})
		if err != nil {
			L.RaiseError("on: %v", err)
			return 0
		}
		return 0
	}
}

func (h *Host) luaSend(ctx context.Context, sc *script) lua.LGFunction {
	return func(L *lua.LState) int {
		text := L.CheckString(1)
		h.service.SendInternal(ctx, strings.Split(text, "\n"), core.RecordOptions{}, "script:"+string(sc.owner))
		return 0
	}
}

func (h *Host) luaLog(ctx context.Context, sc *script) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		logx.WithOwner(ctx, sc.owner).Info("script log", "msg", msg)
		return 0
	}
}

// luaHandler bridges a bus dispatch into a Lua call. It runs on the
// pipeline goroutine under the script mutex.
func (h *Host) luaHandler(sc *script, fn *lua.LFunction) eventbus.HandlerFunc {
	return func(_ context.Context, args *eventbus.Args) (eventbus.Mutation, error) {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		L := sc.state
		L.Push(fn)
		L.Push(argsToTable(L, args))
		if err := L.PCall(1, 1, nil); err != nil {
			return eventbus.Mutation{}, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return mutationFromValue(ret), nil
	}
}

func argsToTable(L *lua.LState, args *eventbus.Args) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "event", lua.LString(args.Name))
	L.SetField(tbl, "line", lua.LString(args.Line))
	L.SetField(tbl, "raw", lua.LString(args.Raw))
	L.SetField(tbl, "internal", lua.LBool(args.Internal))
	L.SetField(tbl, "omitted", lua.LBool(args.Omitted))
	L.SetField(tbl, "client", lua.LString(args.ClientID))
	if args.TriggerID != "" {
		L.SetField(tbl, "trigger", lua.LString(args.TriggerID))
	}
	if len(args.Groups) > 0 {
		groups := L.NewTable()
		for name, value := range args.Groups {
			L.SetField(groups, name, lua.LString(value))
		}
		L.SetField(tbl, "groups", groups)
	}
	if len(args.Values) > 0 {
		values := L.NewTable()
		for name, value := range args.Values {
			L.SetField(values, name, goToLua(value))
		}
		L.SetField(tbl, "values", values)
	}
	return tbl
}

func goToLua(value any) lua.LValue {
	switch v := value.(type) {
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case bool:
		return lua.LBool(v)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

func mutationFromValue(value lua.LValue) eventbus.Mutation {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return eventbus.Mutation{}
	}
	var mut eventbus.Mutation
	if rewrite := tbl.RawGetString("rewrite"); rewrite != lua.LNil {
		text := rewrite.String()
		mut.Rewrite = &text
	}
	if omit := tbl.RawGetString("omit"); omit == lua.LTrue {
		mut.Omit = true
	}
	return mut
}

func stringField(tbl *lua.LTable, key string) string {
	if v := tbl.RawGetString(key); v != lua.LNil {
		return v.String()
	}
	return ""
}

func boolField(tbl *lua.LTable, key string) bool {
	return tbl.RawGetString(key) == lua.LTrue
}

func intField(tbl *lua.LTable, key string) int {
	if v, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return int(v)
	}
	return 0
}

func ownerFromPath(path string) (schema.OwnerID, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	owner := schema.OwnerID(strings.ToLower(base))
	if err := schema.ValidateOwnerID(owner); err != nil {
		return "", fmt.Errorf("script file name %q: %w", base, err)
	}
	return owner, nil
}
