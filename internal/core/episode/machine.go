package episode

import "github.com/gowvp/nora/internal/core/track"

// State 状态机状态
type State int

const (
	Scanning  State = iota // 寻找足够长的连续交互
	InEpisode              // 片段进行中
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case InEpisode:
		return "in_episode"
	}
	return "unknown"
}

// Sample 状态机的一帧输入
type Sample struct {
	Frame       int
	Interacting bool
	ClassID     int // track.NoClass 表示该帧无检测
}

// Machine 单个 ROI 的片段状态机，按帧号升序调用 Step
//
// 开启: 连续 MinInteractionFrames 帧交互，开始帧为这一段的第一帧，
// 主类别为这一段类别的众数(并列取先出现者)，开启后不再改变。
// 间隔关闭: 第 MaxGapFrames+1 个连续非交互帧出现时关闭，结束帧为最后一个交互帧。
// 类别漂移关闭: 连续 MaxClassChangeFrames+1 帧类别不同于主类别时关闭，
// 结束帧为漂移开始前一帧，触发关闭的帧不再参与新片段的判定。
// 序列结束时仍在进行的片段以最后一帧结束。每次关闭都会重置全部计数。
type Machine struct {
	roi    string
	params Params
	state  State

	run []Sample // Scanning 状态下的连续交互帧

	start, class, lastInteracting int
	gapLeft                       int
	drift                         int
	driftFrom                     int // 漂移开始前的最后一帧

	prev     int
	episodes []Episode
}

func NewMachine(roi string, p Params) *Machine {
	if p.MinInteractionFrames < 1 {
		p.MinInteractionFrames = 1
	}
	return &Machine{
		roi:    roi,
		params: p,
		run:    make([]Sample, 0, p.MinInteractionFrames),
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Step(s Sample) {
	switch m.state {
	case Scanning:
		m.scan(s)
	case InEpisode:
		m.advance(s)
	}
	m.prev = s.Frame
}

// Finish 结束输入并返回该 ROI 的全部片段
func (m *Machine) Finish() []Episode {
	if m.state == InEpisode {
		m.close(m.prev)
	}
	return m.episodes
}

func (m *Machine) scan(s Sample) {
	if !s.Interacting {
		m.run = m.run[:0]
		return
	}
	m.run = append(m.run, s)
	if len(m.run) >= m.params.MinInteractionFrames {
		m.open()
	}
}

func (m *Machine) open() {
	m.state = InEpisode
	m.start = m.run[0].Frame
	m.class = dominantClass(m.run)
	m.lastInteracting = m.run[len(m.run)-1].Frame
	m.gapLeft = m.params.MaxGapFrames
	m.drift = 0
	m.run = m.run[:0]
}

func (m *Machine) advance(s Sample) {
	if s.ClassID != m.class {
		if m.drift == 0 {
			m.driftFrom = m.prev
		}
		m.drift++
		if m.drift > m.params.MaxClassChangeFrames {
			m.close(m.driftFrom)
			return
		}
	} else {
		m.drift = 0
	}

	if s.Interacting {
		m.gapLeft = m.params.MaxGapFrames
		m.lastInteracting = s.Frame
		return
	}
	if m.gapLeft > 0 {
		m.gapLeft--
		return
	}
	m.close(m.lastInteracting)
}

func (m *Machine) close(end int) {
	if d := end - m.start + 1; d > 0 {
		m.episodes = append(m.episodes, Episode{
			StartFrame: m.start,
			EndFrame:   end,
			Duration:   d,
			ClassID:    m.class,
			ObjectROI:  m.roi,
		})
	}
	m.state = Scanning
	m.run = m.run[:0]
	m.gapLeft = 0
	m.drift = 0
}

// dominantClass 众数，并列取先出现者；忽略无检测帧，全部无检测时返回 NoClass
func dominantClass(run []Sample) int {
	counts := make(map[int]int, 2)
	order := make([]int, 0, 2)
	for _, s := range run {
		if s.ClassID == track.NoClass {
			continue
		}
		if counts[s.ClassID] == 0 {
			order = append(order, s.ClassID)
		}
		counts[s.ClassID]++
	}
	best, bestN := track.NoClass, 0
	for _, c := range order {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return best
}
