package analytics

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/telarin/latentvault/database/repo/images"
)

// recordParams 存量参数 JSON 的宽容解码形态。
// 这里不复用提取侧的结构：历史记录的 loras 字段存在
// 裸字符串和 {"name": ...} 对象两种写法，两种都要认。
type recordParams struct {
	Checkpoint  *string           `json:"checkpoint"`
	SamplerName *string           `json:"sampler_name"`
	Steps       *int              `json:"steps"`
	CFG         *float64          `json:"cfg"`
	Loras       []json.RawMessage `json:"loras"`
}

// record 单条快照与解码后的参数。参数 JSON 解码失败时 params 为 nil，
// 该记录不参与参数维度的聚合，但时间和提示词维度照常计数。
type record struct {
	row    images.AnalyticsRow
	params *recordParams
}

func decodeParams(raw *string) *recordParams {
	if raw == nil || *raw == "" {
		return nil
	}
	var p recordParams
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		return nil
	}
	return &p
}

// loraNames 归一化辅助模型列表，空名称丢弃
func (p *recordParams) loraNames() []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, raw := range p.Loras {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				names = append(names, s)
			}
			continue
		}
		var obj struct {
			Name     string `json:"name"`
			LoraName string `json:"lora_name"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		switch {
		case obj.Name != "":
			names = append(names, obj.Name)
		case obj.LoraName != "":
			names = append(names, obj.LoraName)
		}
	}
	return names
}

// bucketCounter 带收藏计数的分组计数器。
// 记录键的首次出现顺序，排序并列时以此保持确定结果。
type bucketCounter struct {
	keys []string
	m    map[string]*bucketEntry
}

type bucketEntry struct {
	total     int
	favorited int
}

func newBucketCounter() *bucketCounter {
	return &bucketCounter{m: make(map[string]*bucketEntry)}
}

func (c *bucketCounter) add(key string, favorited bool) {
	n := 0
	if favorited {
		n = 1
	}
	c.addN(key, 1, n)
}

func (c *bucketCounter) addN(key string, total, favorited int) {
	e, ok := c.m[key]
	if !ok {
		e = &bucketEntry{}
		c.m[key] = e
		c.keys = append(c.keys, key)
	}
	e.total += total
	e.favorited += favorited
}

// sortedKeys 按计数降序排列，计数相同保持首次出现顺序
func (c *bucketCounter) sortedKeys() []string {
	keys := append([]string(nil), c.keys...)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.m[keys[i]].total > c.m[keys[j]].total
	})
	return keys
}

func topN(keys []string, n int) []string {
	if len(keys) > n {
		return keys[:n]
	}
	return keys
}

// rate 收藏率，总数为 0 时定义为 0
func rate(favorited, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(favorited)/float64(total)*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// buildInsights 对用户全量快照做一次纯聚合。不做任何 I/O，
// 各维度相互独立，单条记录的脏数据只影响自己。
func buildInsights(rows []images.AnalyticsRow) *InsightsResponse {
	records := make([]record, 0, len(rows))
	favorited := 0
	for _, row := range rows {
		if row.Favorited {
			favorited++
		}
		records = append(records, record{row: row, params: decodeParams(row.Params)})
	}

	return &InsightsResponse{
		TotalImages:    len(rows),
		TotalFavorited: favorited,
		FavoriteRate:   rate(favorited, len(rows)),
		ModelStats:     modelStats(records),
		Prompts:        promptInsights(records),
		DeepDive:       modelDeepDive(records),
		Time:           timeInsights(records),
		Parameters:     parameterInsights(records),
		Loras:          loraInsights(records),
	}
}

// modelStats 按底模统计收藏率，底模缺失的记录整条排除
func modelStats(records []record) []ModelStat {
	c := newBucketCounter()
	for _, r := range records {
		if r.params == nil || r.params.Checkpoint == nil {
			continue
		}
		c.add(*r.params.Checkpoint, r.row.Favorited)
	}

	stats := make([]ModelStat, 0, len(c.keys))
	for _, key := range c.sortedKeys() {
		e := c.m[key]
		stats = append(stats, ModelStat{
			Checkpoint:   key,
			Total:        e.total,
			Favorited:    e.favorited,
			FavoriteRate: rate(e.favorited, e.total),
		})
	}
	return stats
}

var wordSplit = regexp.MustCompile(`\W+`)

// stopWords 词频统计忽略的常见虚词。
// 两个字符以下的词已经被长度过滤去掉，这里只收更长的。
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "for": {}, "from": {}, "this": {},
	"that": {}, "are": {}, "was": {}, "were": {}, "has": {}, "have": {},
	"had": {}, "not": {}, "but": {}, "all": {}, "any": {}, "can": {},
	"will": {}, "its": {}, "her": {}, "his": {}, "she": {}, "him": {},
	"they": {}, "them": {}, "their": {}, "very": {}, "into": {}, "out": {},
	"over": {}, "under": {}, "than": {}, "then": {}, "when": {}, "what": {},
	"each": {}, "more": {}, "most": {}, "some": {}, "such": {}, "one": {},
	"two": {}, "also": {}, "there": {}, "these": {}, "those": {},
}

var lengthRanges = []string{"0-50", "51-100", "101-200", "201-300", "300+"}

// promptInsights 词频 Top 50 与长度分布。
// 词频并列时按语料中首次出现的顺序排，快照本身按记录序回放，结果确定。
func promptInsights(records []record) PromptInsights {
	words := newBucketCounter()
	lengths := make([]int, len(lengthRanges))

	for _, r := range records {
		if r.row.PromptText == nil {
			continue
		}
		text := *r.row.PromptText
		lengths[lengthBucket(utf8.RuneCountInString(text))]++

		for _, token := range wordSplit.Split(strings.ToLower(text), -1) {
			if len(token) <= 2 {
				continue
			}
			if _, skip := stopWords[token]; skip {
				continue
			}
			words.add(token, false)
		}
	}

	top := make([]WordCount, 0, 50)
	for _, key := range topN(words.sortedKeys(), 50) {
		top = append(top, WordCount{Word: key, Count: words.m[key].total})
	}

	dist := make([]LengthBucket, len(lengthRanges))
	for i, label := range lengthRanges {
		dist[i] = LengthBucket{Range: label, Count: lengths[i]}
	}

	return PromptInsights{TopWords: top, LengthDistribution: dist}
}

func lengthBucket(n int) int {
	switch {
	case n <= 50:
		return 0
	case n <= 100:
		return 1
	case n <= 200:
		return 2
	case n <= 300:
		return 3
	default:
		return 4
	}
}

// pairStat (底模, 采样器) 维度的部分和
type pairStat struct {
	checkpoint string
	sampler    string
	total      int
	favorited  int
	stepsSum   float64
	stepsN     int
	cfgSum     float64
	cfgN       int
}

// modelDeepDive 先按 (底模, 采样器) 求部分和，再聚到底模层：
// 平均步数和平均 CFG 取各组均值按图片数加权，收藏率用合计数。
func modelDeepDive(records []record) []ModelDeepDive {
	pairs := make(map[[2]string]*pairStat)
	var order [][2]string

	for _, r := range records {
		if r.params == nil || r.params.Checkpoint == nil {
			continue
		}
		sampler := ""
		if r.params.SamplerName != nil {
			sampler = *r.params.SamplerName
		}
		key := [2]string{*r.params.Checkpoint, sampler}
		p, ok := pairs[key]
		if !ok {
			p = &pairStat{checkpoint: key[0], sampler: sampler}
			pairs[key] = p
			order = append(order, key)
		}
		p.total++
		if r.row.Favorited {
			p.favorited++
		}
		if r.params.Steps != nil {
			p.stepsSum += float64(*r.params.Steps)
			p.stepsN++
		}
		if r.params.CFG != nil {
			p.cfgSum += *r.params.CFG
			p.cfgN++
		}
	}

	type modelAgg struct {
		total       int
		favorited   int
		stepsWeight float64
		stepsCount  int
		cfgWeight   float64
		cfgCount    int
		samplers    *bucketCounter
	}
	models := make(map[string]*modelAgg)
	var modelOrder []string
	for _, key := range order {
		p := pairs[key]
		m, ok := models[p.checkpoint]
		if !ok {
			m = &modelAgg{samplers: newBucketCounter()}
			models[p.checkpoint] = m
			modelOrder = append(modelOrder, p.checkpoint)
		}
		m.total += p.total
		m.favorited += p.favorited
		if p.stepsN > 0 {
			m.stepsWeight += (p.stepsSum / float64(p.stepsN)) * float64(p.total)
			m.stepsCount += p.total
		}
		if p.cfgN > 0 {
			m.cfgWeight += (p.cfgSum / float64(p.cfgN)) * float64(p.total)
			m.cfgCount += p.total
		}
		if p.sampler != "" {
			m.samplers.addN(p.sampler, p.total, p.favorited)
		}
	}

	sort.SliceStable(modelOrder, func(i, j int) bool {
		return models[modelOrder[i]].total > models[modelOrder[j]].total
	})

	dives := make([]ModelDeepDive, 0, len(modelOrder))
	for _, name := range modelOrder {
		m := models[name]
		var avgSteps, avgCFG float64
		if m.stepsCount > 0 {
			avgSteps = round2(m.stepsWeight / float64(m.stepsCount))
		}
		if m.cfgCount > 0 {
			avgCFG = round2(m.cfgWeight / float64(m.cfgCount))
		}
		top := make([]SamplerUsage, 0, 3)
		for _, s := range topN(m.samplers.sortedKeys(), 3) {
			top = append(top, SamplerUsage{Sampler: s, Count: m.samplers.m[s].total})
		}
		dives = append(dives, ModelDeepDive{
			Checkpoint:   name,
			Total:        m.total,
			AvgSteps:     avgSteps,
			AvgCFG:       avgCFG,
			FavoriteRate: rate(m.favorited, m.total),
			TopSamplers:  top,
		})
	}
	return dives
}

var weekdayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// timeInsights 按自然月（最近 12 个月，正序）和星期（周日起）计数，
// 时间取文件自身的生成时刻而不是入库时刻
func timeInsights(records []record) TimeInsights {
	monthly := make(map[string]int)
	var weekdays [7]int
	for _, r := range records {
		t := time.UnixMilli(r.row.OriginTime)
		monthly[t.Format("2006-01")]++
		weekdays[int(t.Weekday())]++
	}

	// AddDate 对月末日期会归一化溢出，先落到月初再回退
	now := time.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	months := make([]MonthCount, 0, 12)
	for i := 11; i >= 0; i-- {
		m := first.AddDate(0, -i, 0).Format("2006-01")
		months = append(months, MonthCount{Month: m, Count: monthly[m]})
	}

	days := make([]WeekdayCount, 7)
	for i, name := range weekdayNames {
		days[i] = WeekdayCount{Weekday: name, Count: weekdays[i]}
	}
	return TimeInsights{Monthly: months, Weekdays: days}
}

var (
	stepsRanges = []string{"1-10", "11-20", "21-30", "31-40", "41+"}
	cfgRanges   = []string{"0-2", "2-4", "4-6", "6-8", "8+"}
)

// parameterInsights 步数与 CFG 的固定区间直方图（带收藏率）和采样器 Top 10
func parameterInsights(records []record) ParameterInsights {
	steps := make([]bucketEntry, len(stepsRanges))
	cfg := make([]bucketEntry, len(cfgRanges))
	samplers := newBucketCounter()

	for _, r := range records {
		if r.params == nil {
			continue
		}
		if r.params.Steps != nil {
			i := stepsBucket(*r.params.Steps)
			steps[i].total++
			if r.row.Favorited {
				steps[i].favorited++
			}
		}
		if r.params.CFG != nil {
			i := cfgBucket(*r.params.CFG)
			cfg[i].total++
			if r.row.Favorited {
				cfg[i].favorited++
			}
		}
		if r.params.SamplerName != nil {
			samplers.add(*r.params.SamplerName, r.row.Favorited)
		}
	}

	top := make([]SamplerStat, 0, 10)
	for _, key := range topN(samplers.sortedKeys(), 10) {
		e := samplers.m[key]
		top = append(top, SamplerStat{
			Sampler:      key,
			Count:        e.total,
			FavoriteRate: rate(e.favorited, e.total),
		})
	}

	return ParameterInsights{
		Steps:       rateBuckets(stepsRanges, steps),
		CFG:         rateBuckets(cfgRanges, cfg),
		TopSamplers: top,
	}
}

func rateBuckets(labels []string, entries []bucketEntry) []RateBucket {
	out := make([]RateBucket, len(labels))
	for i, label := range labels {
		out[i] = RateBucket{
			Range:        label,
			Count:        entries[i].total,
			Favorited:    entries[i].favorited,
			FavoriteRate: rate(entries[i].favorited, entries[i].total),
		}
	}
	return out
}

func stepsBucket(v int) int {
	switch {
	case v <= 10:
		return 0
	case v <= 20:
		return 1
	case v <= 30:
		return 2
	case v <= 40:
		return 3
	default:
		return 4
	}
}

func cfgBucket(v float64) int {
	switch {
	case v < 2:
		return 0
	case v < 4:
		return 1
	case v < 6:
		return 2
	case v < 8:
		return 3
	default:
		return 4
	}
}

// loraInsights 辅助模型单体 Top 20 与组合 Top 10。
// 组合键取排序后的名称，使用顺序不同的同一组合落进同一桶。
func loraInsights(records []record) LoraInsights {
	individual := newBucketCounter()
	combos := newBucketCounter()
	comboNames := make(map[string][]string)

	for _, r := range records {
		names := r.params.loraNames()
		for _, name := range names {
			individual.add(name, false)
		}
		if len(names) < 2 {
			continue
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		key := strings.Join(sorted, " + ")
		combos.add(key, false)
		if _, ok := comboNames[key]; !ok {
			comboNames[key] = sorted
		}
	}

	top := make([]LoraUsage, 0, 20)
	for _, key := range topN(individual.sortedKeys(), 20) {
		top = append(top, LoraUsage{Name: key, Count: individual.m[key].total})
	}

	common := make([]LoraCombination, 0, 10)
	for _, key := range topN(combos.sortedKeys(), 10) {
		common = append(common, LoraCombination{Loras: comboNames[key], Count: combos.m[key].total})
	}

	return LoraInsights{TopLoras: top, CommonCombinations: common}
}
