package pipeline

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/internal/ident"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 👥 阶段四：实体解析
// =============================================================================
// 物体轨迹在重识别嵌入空间上做密度聚类，密度不足的噪声点保持显式
// unresolved。人物轨迹对逐对融合打分（嵌入 0.55 + 拓扑 0.20 +
// 行程 0.15 + 时间重叠 0.10），拓扑不可达且行程超限直接一票否决；
// 达标对做并查集合并。绝不强制合并：证据不足的链接保持 unresolved。

// stageResolve 执行实体解析
func (e *Engine) stageResolve(ctx context.Context, st *RunState, mode Mode) error {
	clipsByID := make(map[string]types.Clip, len(st.Request.Clips))
	for _, clip := range st.Request.Clips {
		clipsByID[clip.ClipID] = clip
	}

	var objects, persons []types.Tracklet
	for _, track := range st.GroundedTracks {
		switch track.EntityType {
		case types.EntityObject:
			objects = append(objects, track)
		case types.EntityPerson:
			persons = append(persons, track)
		}
	}

	embeddings := make(map[string][]float64, len(st.GroundedTracks))
	for _, track := range st.GroundedTracks {
		vec, _, err := adapters.Invoke(ctx, e.invoker, "reid_embedder",
			func(c context.Context) ([]float64, float64, error) {
				return e.bundle.ReID.EmbedTrack(c, track, clipsByID[track.ClipID])
			})
		if err != nil {
			return types.NewError(types.ErrAdapterUnavailable, "reid embedding failed").
				WithStage(types.StageResolve).WithCause(err)
		}
		embeddings[track.TrackID] = vec
	}

	links := e.resolveObjects(objects, embeddings)
	links = append(links, e.resolvePersons(persons, embeddings, st.Request.CameraTopology)...)

	sort.Slice(links, func(i, j int) bool { return links[i].EntityID < links[j].EntityID })
	if links == nil {
		links = []types.EntityLink{}
	}
	st.EntityLinks = links

	for _, link := range links {
		st.Evidence.Register(link.EntityID, st.Evidence.Collect(link.TrackIDs...)...)
	}

	if mode == ModeDegraded && len(links) == 0 {
		st.MarkDegraded(types.StageResolve)
	}
	e.logger.Info("实体解析完成",
		zap.String("run_id", st.RunID),
		zap.Int("links", len(links)),
		zap.Int("unresolved", countUnresolved(links)))
	return nil
}

// resolveObjects DBSCAN 密度聚类：余弦距离 ≤ eps 的轨迹互为邻居
func (e *Engine) resolveObjects(tracks []types.Tracklet, embeddings map[string][]float64) []types.EntityLink {
	if len(tracks) == 0 {
		return nil
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].TrackID < tracks[j].TrackID })

	eps := e.cfg.Resolution.ClusterEps
	minPts := e.cfg.Resolution.ClusterMinPoints

	neighbors := func(i int) []int {
		var out []int
		for j := range tracks {
			if cosineDistance(embeddings[tracks[i].TrackID], embeddings[tracks[j].TrackID]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, len(tracks))
	clusterID := 0

	for i := range tracks {
		if labels[i] != unvisited {
			continue
		}
		hood := neighbors(i)
		if len(hood) < minPts {
			labels[i] = noise
			continue
		}
		clusterID++
		labels[i] = clusterID

		queue := append([]int(nil), hood...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			if expanded := neighbors(j); len(expanded) >= minPts {
				queue = append(queue, expanded...)
			}
		}
	}

	clusters := make(map[int][]types.Tracklet)
	labelCount := make(map[string]int)
	for i, track := range tracks {
		clusters[labels[i]] = append(clusters[labels[i]], track)
		labelCount[strings.ToLower(track.Label)]++
	}

	var links []types.EntityLink
	for id, members := range clusters {
		if id == noise {
			for _, track := range members {
				label := strings.ToLower(track.Label)
				// 孤立标签无跨轨迹身份主张，平凡地 resolved；
				// 同标签其余轨迹成簇而它掉队的才保持 unresolved
				if labelCount[label] == 1 {
					links = append(links, types.EntityLink{
						EntityID:   ident.StableID("OBJ", label),
						EntityType: types.EntityObject,
						Label:      label,
						TrackIDs:   []string{track.TrackID},
						Confidence: 0.83,
						Resolved:   true,
					})
					continue
				}
				links = append(links, types.EntityLink{
					EntityID:   ident.StableID("OBJ", "noise", track.TrackID),
					EntityType: types.EntityObject,
					Label:      label,
					TrackIDs:   []string{track.TrackID},
					Confidence: 0.4,
					Resolved:   false,
					Reason:     "insufficient cluster density",
				})
			}
			continue
		}
		links = append(links, types.EntityLink{
			EntityID:   ident.StableID("OBJ", canonicalLabel(members)),
			EntityType: types.EntityObject,
			Label:      canonicalLabel(members),
			TrackIDs:   sortedTrackIDs(members),
			Confidence: 0.83,
			Resolved:   true,
		})
	}
	return links
}

// resolvePersons 融合打分 + 并查集的人物链接
func (e *Engine) resolvePersons(tracks []types.Tracklet, embeddings map[string][]float64, topology types.CameraTopology) []types.EntityLink {
	if len(tracks) == 0 {
		return nil
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].TrackID < tracks[j].TrackID })

	parent := make([]int, len(tracks))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	pairScores := make(map[[2]int]float64)
	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			score, vetoed := e.fusePair(tracks[i], tracks[j], embeddings, topology)
			pairScores[[2]int{i, j}] = score
			if !vetoed && score >= e.cfg.Resolution.LinkThreshold {
				union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := range tracks {
		root := find(i)
		components[root] = append(components[root], i)
	}

	// 同标签被拆散到多个分量的组整体保持 unresolved，
	// 不为其成员发布可能自相矛盾的已解析链接。
	splitLabels := make(map[string]bool)
	{
		rootsByLabel := make(map[string]map[int]bool)
		for i, track := range tracks {
			label := strings.ToLower(track.Label)
			if rootsByLabel[label] == nil {
				rootsByLabel[label] = make(map[int]bool)
			}
			rootsByLabel[label][find(i)] = true
		}
		for label, roots := range rootsByLabel {
			if len(roots) > 1 {
				splitLabels[label] = true
			}
		}
	}

	var links []types.EntityLink
	for _, indices := range components {
		if splitLabels[strings.ToLower(tracks[indices[0]].Label)] {
			continue
		}
		members := make([]types.Tracklet, 0, len(indices))
		for _, i := range indices {
			members = append(members, tracks[i])
		}

		if len(members) == 1 {
			// 孤立轨迹：无跨机位主张，平凡地 resolved
			track := members[0]
			links = append(links, types.EntityLink{
				EntityID:   ident.StableID("PER", strings.ToLower(track.Label), track.TrackID),
				EntityType: types.EntityPerson,
				Label:      strings.ToLower(track.Label),
				TrackIDs:   []string{track.TrackID},
				Confidence: track.MedianConfidence,
				Resolved:   true,
			})
			continue
		}

		minScore := 1.0
		for a := 0; a < len(indices); a++ {
			for b := a + 1; b < len(indices); b++ {
				i, j := indices[a], indices[b]
				if i > j {
					i, j = j, i
				}
				if s := pairScores[[2]int{i, j}]; s < minScore {
					minScore = s
				}
			}
		}

		links = append(links, types.EntityLink{
			EntityID:   ident.StableID("PER", canonicalLabel(members)),
			EntityType: types.EntityPerson,
			Label:      canonicalLabel(members),
			TrackIDs:   sortedTrackIDs(members),
			Confidence: minScore,
			Resolved:   true,
		})
	}

	// 跨摄像机但未能合并的同标签轨迹组暴露为显式 unresolved 链接
	links = append(links, e.unresolvedPersonGroups(tracks, topology, embeddings, find)...)
	return links
}

// fusePair 计算一对人物轨迹的融合链接分。
// 返回 vetoed=true 表示拓扑不可达且行程超限的硬否决。
func (e *Engine) fusePair(a, b types.Tracklet, embeddings map[string][]float64, topology types.CameraTopology) (float64, bool) {
	cfg := e.cfg.Resolution

	embSim := adapters.CosineUnit(embeddings[a.TrackID], embeddings[b.TrackID])

	topoScore := 1.0
	travelScore := 1.0
	vetoed := false
	if a.CameraID != b.CameraID {
		first, second := a, b
		if second.TStart < first.TStart {
			first, second = second, first
		}
		travel := second.TStart - first.TEnd
		if travel < 0 {
			travel = 0
		}

		adjacent := topology.Adjacent(first.CameraID, second.CameraID)
		if !adjacent {
			topoScore = 0.2
		}
		if travel > cfg.MaxTravelSeconds {
			travelScore = 0.1
			if !adjacent {
				vetoed = true
			}
		} else if cfg.MaxTravelSeconds > 0 {
			travelScore = 1.0 - travel/cfg.MaxTravelSeconds*0.5
		}
	}

	overlapScore := 0.5
	if a.CameraID == b.CameraID {
		// 同机位同时出现的两条轨迹更可能是不同人
		if a.TStart <= b.TEnd && b.TStart <= a.TEnd {
			overlapScore = 0.0
		} else {
			overlapScore = 1.0
		}
	}

	score := cfg.EmbeddingWeight*embSim +
		cfg.TopologyWeight*topoScore +
		cfg.TravelWeight*travelScore +
		cfg.OverlapWeight*overlapScore
	return score, vetoed
}

// unresolvedPersonGroups 同标签却被否决/低分拆散的跨机位组合
// 保持为带成员清单的 unresolved 链接，供叙述阶段如实陈述。
func (e *Engine) unresolvedPersonGroups(tracks []types.Tracklet, topology types.CameraTopology, embeddings map[string][]float64, find func(int) int) []types.EntityLink {
	_ = topology
	_ = embeddings

	byLabel := make(map[string][]int)
	for i, track := range tracks {
		byLabel[strings.ToLower(track.Label)] = append(byLabel[strings.ToLower(track.Label)], i)
	}

	var links []types.EntityLink
	for label, indices := range byLabel {
		roots := make(map[int]bool)
		for _, i := range indices {
			roots[find(i)] = true
		}
		if len(roots) < 2 {
			continue
		}
		members := make([]types.Tracklet, 0, len(indices))
		for _, i := range indices {
			members = append(members, tracks[i])
		}
		links = append(links, types.EntityLink{
			EntityID:   ident.StableID("PER", "unresolved", label),
			EntityType: types.EntityPerson,
			Label:      label,
			TrackIDs:   sortedTrackIDs(members),
			Confidence: 0.46,
			Resolved:   false,
			Reason:     "cross-camera linkage below threshold or vetoed by topology",
		})
	}
	return links
}

func cosineDistance(a, b []float64) float64 {
	return 1.0 - adapters.Cosine(a, b)
}

// canonicalLabel 字典序最小的成员标签，保证簇身份跨运行稳定
func canonicalLabel(members []types.Tracklet) string {
	label := strings.ToLower(members[0].Label)
	for _, track := range members[1:] {
		if l := strings.ToLower(track.Label); l < label {
			label = l
		}
	}
	return label
}

func sortedTrackIDs(members []types.Tracklet) []string {
	out := make([]string, 0, len(members))
	for _, track := range members {
		out = append(out, track.TrackID)
	}
	sort.Strings(out)
	return out
}

func countUnresolved(links []types.EntityLink) int {
	n := 0
	for _, link := range links {
		if !link.Resolved {
			n++
		}
	}
	return n
}
