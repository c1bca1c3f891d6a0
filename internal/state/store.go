package state

import (
	"strings"
	"sync"

	"github.com/kbeye/console/internal/model"
)

// Store 控制台的单归约器状态存储
//
// 所有变更以命令形式进入一条通道，由唯一的归约协程
// 顺序处理，乐观插入与后续刷新之间不存在竞争。
// 读取同样以命令走通道，返回的是时点快照副本。
type Store struct {
	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once

	ringSize int
}

// data 归约协程独占的内部状态
type data struct {
	services []model.Service // 保持到达顺序
	statuses map[string]model.ServiceStatus
	logs     map[string]*Ring
	alerts   []model.Alert
	rawState model.ConnState
	stable   model.StableStatus
	ringSize int
}

// command 状态变更或查询命令
type command interface {
	apply(*data)
}

// NewStore 创建状态存储并启动归约协程
func NewStore(ringSize int) *Store {
	if ringSize < 1 {
		ringSize = 1000
	}
	s := &Store{
		cmds:     make(chan command, 64),
		done:     make(chan struct{}),
		ringSize: ringSize,
	}

	go s.run()
	return s
}

// run 归约循环
func (s *Store) run() {
	d := &data{
		statuses: make(map[string]model.ServiceStatus),
		logs:     make(map[string]*Ring),
		rawState: model.ConnIdle,
		stable:   model.StableDisconnected,
		ringSize: s.ringSize,
	}

	for {
		select {
		case cmd := <-s.cmds:
			cmd.apply(d)
		case <-s.done:
			return
		}
	}
}

// Close 停止归约协程
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// submit 提交一个命令；存储已关闭时丢弃
func (s *Store) submit(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

// ---- 变更命令 ----

type replaceServicesCmd struct{ services []model.Service }

func (c replaceServicesCmd) apply(d *data) {
	// 整体替换，但保留仍在等待确认的乐观插入
	var pending []model.Service
	for _, svc := range d.services {
		if svc.Pending && !containsService(c.services, svc.ServiceID) {
			pending = append(pending, svc)
		}
	}
	d.services = append(c.services, pending...)
}

type upsertServiceCmd struct{ service model.Service }

func (c upsertServiceCmd) apply(d *data) {
	for i, svc := range d.services {
		if svc.ServiceID == c.service.ServiceID {
			d.services[i] = c.service
			return
		}
	}
	d.services = append(d.services, c.service)
}

type confirmServiceCmd struct{ service model.Service }

func (c confirmServiceCmd) apply(d *data) {
	c.service.Pending = false
	for i, svc := range d.services {
		if svc.ServiceID == c.service.ServiceID {
			d.services[i] = c.service
			return
		}
	}
	d.services = append(d.services, c.service)
}

type removeServiceCmd struct{ serviceID string }

func (c removeServiceCmd) apply(d *data) {
	for i, svc := range d.services {
		if svc.ServiceID == c.serviceID {
			d.services = append(d.services[:i], d.services[i+1:]...)
			break
		}
	}
	delete(d.statuses, c.serviceID)
	delete(d.logs, c.serviceID)
}

type applyStatusCmd struct{ statuses []model.ServiceStatus }

func (c applyStatusCmd) apply(d *data) {
	d.statuses = make(map[string]model.ServiceStatus, len(c.statuses))
	for _, st := range c.statuses {
		d.statuses[st.ServiceID] = st
	}
}

type patchStatusCmd struct{ status model.ServiceStatus }

func (c patchStatusCmd) apply(d *data) {
	// 单条推送补丁保留旧快照中缺失的展示名
	if prev, ok := d.statuses[c.status.ServiceID]; ok && c.status.ServiceName == "" {
		c.status.ServiceName = prev.ServiceName
	}
	d.statuses[c.status.ServiceID] = c.status
}

type appendLogCmd struct{ entry model.LogEntry }

func (c appendLogCmd) apply(d *data) {
	ring, ok := d.logs[c.entry.ServiceID]
	if !ok {
		ring = NewRing(d.ringSize)
		d.logs[c.entry.ServiceID] = ring
	}
	ring.Append(c.entry)
}

type replaceLogsCmd struct {
	serviceID string
	entries   []model.LogEntry
}

func (c replaceLogsCmd) apply(d *data) {
	ring, ok := d.logs[c.serviceID]
	if !ok {
		ring = NewRing(d.ringSize)
		d.logs[c.serviceID] = ring
	}
	ring.Replace(c.entries)
}

type replaceAlertsCmd struct{ alerts []model.Alert }

func (c replaceAlertsCmd) apply(d *data) {
	d.alerts = c.alerts
}

type setStableStatusCmd struct{ status model.StableStatus }

func (c setStableStatusCmd) apply(d *data) {
	d.stable = c.status
}

type setRawStateCmd struct{ state model.ConnState }

func (c setRawStateCmd) apply(d *data) {
	d.rawState = c.state
}

func containsService(services []model.Service, id string) bool {
	for _, svc := range services {
		if svc.ServiceID == id {
			return true
		}
	}
	return false
}

// ---- 变更入口 ----

// ReplaceServices 用后端返回的清单整体替换服务列表
func (s *Store) ReplaceServices(services []model.Service) {
	s.submit(replaceServicesCmd{services: services})
}

// UpsertService 插入或更新一个服务（乐观插入路径）
func (s *Store) UpsertService(svc model.Service) {
	s.submit(upsertServiceCmd{service: svc})
}

// ConfirmService 用后端确认的副本落实乐观插入
func (s *Store) ConfirmService(svc model.Service) {
	s.submit(confirmServiceCmd{service: svc})
}

// RemoveService 移除服务及其状态和日志
func (s *Store) RemoveService(serviceID string) {
	s.submit(removeServiceCmd{serviceID: serviceID})
}

// ApplyStatus 整体替换状态快照
func (s *Store) ApplyStatus(statuses []model.ServiceStatus) {
	s.submit(applyStatusCmd{statuses: statuses})
}

// PatchStatus 按推送更新补丁单个服务的状态
func (s *Store) PatchStatus(status model.ServiceStatus) {
	s.submit(patchStatusCmd{status: status})
}

// AppendLog 追加一条流式日志
func (s *Store) AppendLog(entry model.LogEntry) {
	s.submit(appendLogCmd{entry: entry})
}

// ReplaceLogs 用一次批量抓取的结果重置某服务的日志缓冲
func (s *Store) ReplaceLogs(serviceID string, entries []model.LogEntry) {
	s.submit(replaceLogsCmd{serviceID: serviceID, entries: entries})
}

// ReplaceAlerts 替换告警缓存
func (s *Store) ReplaceAlerts(alerts []model.Alert) {
	s.submit(replaceAlertsCmd{alerts: alerts})
}

// SetStableStatus 记录稳定连接状态
func (s *Store) SetStableStatus(status model.StableStatus) {
	s.submit(setStableStatusCmd{status: status})
}

// SetRawState 记录原始传输状态
func (s *Store) SetRawState(state model.ConnState) {
	s.submit(setRawStateCmd{state: state})
}

// ---- 查询命令 ----

type servicesQuery struct{ reply chan []model.Service }

func (q servicesQuery) apply(d *data) {
	out := make([]model.Service, len(d.services))
	copy(out, d.services)
	q.reply <- out
}

type serviceQuery struct {
	serviceID string
	reply     chan *model.Service
}

func (q serviceQuery) apply(d *data) {
	for _, svc := range d.services {
		if svc.ServiceID == q.serviceID {
			found := svc
			q.reply <- &found
			return
		}
	}
	q.reply <- nil
}

type statusesQuery struct{ reply chan map[string]model.ServiceStatus }

func (q statusesQuery) apply(d *data) {
	out := make(map[string]model.ServiceStatus, len(d.statuses))
	for k, v := range d.statuses {
		out[k] = v
	}
	q.reply <- out
}

type logsQuery struct {
	serviceID string
	level     model.LogLevel
	query     string
	limit     int
	reply     chan []model.LogEntry
}

func (q logsQuery) apply(d *data) {
	ring, ok := d.logs[q.serviceID]
	if !ok {
		q.reply <- nil
		return
	}

	entries := ring.Snapshot()
	out := make([]model.LogEntry, 0, len(entries))
	needle := strings.ToLower(q.query)
	for _, e := range entries {
		if q.level != "" && e.Level != q.level {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Message), needle) {
			continue
		}
		out = append(out, e)
	}

	// limit保留最新的N条
	if q.limit > 0 && len(out) > q.limit {
		out = out[len(out)-q.limit:]
	}
	q.reply <- out
}

type alertsQuery struct{ reply chan []model.Alert }

func (q alertsQuery) apply(d *data) {
	out := make([]model.Alert, len(d.alerts))
	copy(out, d.alerts)
	q.reply <- out
}

// Connection 连接状态读数
type Connection struct {
	Raw    model.ConnState    `json:"raw"`
	Stable model.StableStatus `json:"stable"`
}

type connectionQuery struct{ reply chan Connection }

func (q connectionQuery) apply(d *data) {
	q.reply <- Connection{Raw: d.rawState, Stable: d.stable}
}

// ---- 查询入口 ----

// Services 返回服务列表快照
func (s *Store) Services() []model.Service {
	q := servicesQuery{reply: make(chan []model.Service, 1)}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return nil
	}
}

// Service 按ID返回单个服务，不存在时返回nil
func (s *Store) Service(serviceID string) *model.Service {
	q := serviceQuery{serviceID: serviceID, reply: make(chan *model.Service, 1)}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return nil
	}
}

// Statuses 返回状态快照
func (s *Store) Statuses() map[string]model.ServiceStatus {
	q := statusesQuery{reply: make(chan map[string]model.ServiceStatus, 1)}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return nil
	}
}

// Logs 返回某服务经过滤的日志
//
// level为空表示不过滤级别；query做大小写不敏感的子串匹配；
// limit大于0时只保留最新的limit条。
func (s *Store) Logs(serviceID string, level model.LogLevel, query string, limit int) []model.LogEntry {
	q := logsQuery{
		serviceID: serviceID,
		level:     level,
		query:     query,
		limit:     limit,
		reply:     make(chan []model.LogEntry, 1),
	}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return nil
	}
}

// Alerts 返回告警缓存快照
func (s *Store) Alerts() []model.Alert {
	q := alertsQuery{reply: make(chan []model.Alert, 1)}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return nil
	}
}

// ConnectionReading 返回连接状态读数
func (s *Store) ConnectionReading() Connection {
	q := connectionQuery{reply: make(chan Connection, 1)}
	s.submit(q)
	select {
	case out := <-q.reply:
		return out
	case <-s.done:
		return Connection{Raw: model.ConnIdle, Stable: model.StableDisconnected}
	}
}
