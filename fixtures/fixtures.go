// Package fixtures provides synthetic query requests used by tests and
// local demo runs.
package fixtures

import "github.com/BaSui01/videorag/types"

func buildFrames(duration int, defaultMotion float64, objects map[int][]string, actions map[int][]string) []types.FrameObservation {
	frames := make([]types.FrameObservation, 0, duration+1)
	for ts := 0; ts <= duration; ts++ {
		frames = append(frames, types.FrameObservation{
			Timestamp:        float64(ts),
			Objects:          objects[ts],
			Actions:          actions[ts],
			BackgroundMotion: defaultMotion,
		})
	}
	return frames
}

// RedSUVRequest 标准端到端查询：找红色 SUV、识别下车者并
// 跨内景摄像机追踪该人物。
func RedSUVRequest() types.QueryRequest {
	extObjects := map[int][]string{
		8:  {"red_suv"},
		9:  {"red_suv"},
		10: {"red_suv", "person_p1"},
		11: {"red_suv", "person_p1"},
		12: {"red_suv", "person_p1"},
		13: {"red_suv"},
	}
	extActions := map[int][]string{
		10: {"person_exits_suv"},
		11: {"person_exits_suv"},
	}

	int1Objects := map[int][]string{
		30: {"person_p1"},
		31: {"person_p1"},
		32: {"person_p1"},
		33: {"person_p1"},
	}
	int1Actions := map[int][]string{
		31: {"person_moves_to_interior"},
		32: {"person_moves_to_interior"},
	}

	int2Objects := map[int][]string{
		45: {"person_p1"},
		46: {"person_p1"},
		47: {"person_p1"},
	}
	int2Actions := map[int][]string{
		46: {"person_moves_to_interior"},
	}

	distractorObjects := map[int][]string{
		4: {"blue_sedan"},
		5: {"blue_sedan"},
	}

	clips := []types.Clip{
		{
			ClipID:          "clip_ext_1",
			CameraID:        "cam_ext_1",
			CameraType:      types.CameraStatic,
			Location:        types.LocationExterior,
			DurationSeconds: 60,
			Frames:          buildFrames(60, 0.35, extObjects, extActions),
			Metadata: types.ClipMetadata{
				HasMotionVectors: true,
				ActiveWindows:    []types.TimeSpan{{TStart: 8, TEnd: 13}},
			},
		},
		{
			ClipID:          "clip_int_1",
			CameraID:        "cam_int_1",
			CameraType:      types.CameraStatic,
			Location:        types.LocationInterior,
			DurationSeconds: 60,
			Frames:          buildFrames(60, 0.18, int1Objects, int1Actions),
		},
		{
			ClipID:          "clip_int_2",
			CameraID:        "cam_int_2",
			CameraType:      types.CameraStatic,
			Location:        types.LocationInterior,
			DurationSeconds: 60,
			Frames:          buildFrames(60, 0.22, int2Objects, int2Actions),
		},
		{
			ClipID:          "clip_noise_1",
			CameraID:        "cam_ext_2",
			CameraType:      types.CameraStatic,
			Location:        types.LocationExterior,
			DurationSeconds: 60,
			Frames:          buildFrames(60, 0.65, distractorObjects, nil),
		},
	}

	return types.QueryRequest{
		QueryID:   "query_red_suv_tracking",
		QueryText: "Find the red SUV, identify the person who got out, and track that specific person across the interior cameras.",
		Clips:     clips,
		CameraTopology: types.CameraTopology{
			"cam_ext_1": {"cam_int_1"},
			"cam_int_1": {"cam_ext_1", "cam_int_2"},
			"cam_int_2": {"cam_int_1"},
			"cam_ext_2": {"cam_ext_1"},
		},
	}
}

// RouteCoverageRequest 恰好触发全部四条摄取路由的查询
func RouteCoverageRequest() types.QueryRequest {
	clips := []types.Clip{
		{
			ClipID:          "clip_meta",
			CameraID:        "cam_meta",
			CameraType:      types.CameraStatic,
			Location:        types.LocationExterior,
			DurationSeconds: 20,
			Frames: buildFrames(20, 0.2,
				map[int][]string{4: {"red_suv"}, 5: {"person_p1"}},
				map[int][]string{5: {"person_exits_suv"}}),
			Metadata: types.ClipMetadata{
				HasMotionVectors: true,
				ActiveWindows:    []types.TimeSpan{{TStart: 4, TEnd: 6}},
			},
		},
		{
			ClipID:          "clip_moving",
			CameraID:        "cam_move",
			CameraType:      types.CameraMoving,
			Location:        types.LocationExterior,
			DurationSeconds: 20,
			Frames: buildFrames(20, 0.5,
				map[int][]string{7: {"person_p2"}, 8: {"person_p2"}},
				map[int][]string{8: {"person_runs"}}),
		},
		{
			ClipID:          "clip_static_low",
			CameraID:        "cam_static_low",
			CameraType:      types.CameraStatic,
			Location:        types.LocationInterior,
			DurationSeconds: 20,
			Frames: buildFrames(20, 0.1,
				map[int][]string{9: {"person_p3"}, 10: {"person_p3"}},
				map[int][]string{10: {"person_walks"}}),
		},
		{
			ClipID:          "clip_static_high",
			CameraID:        "cam_static_high",
			CameraType:      types.CameraStatic,
			Location:        types.LocationExterior,
			DurationSeconds: 20,
			Frames: buildFrames(20, 0.8,
				map[int][]string{11: {"vehicle_unknown"}, 12: {"vehicle_unknown"}},
				map[int][]string{12: {"object_moves"}}),
		},
	}

	return types.QueryRequest{
		QueryID:   "query_route_coverage",
		QueryText: "Find person and vehicle movement",
		Clips:     clips,
		CameraTopology: types.CameraTopology{
			"cam_meta":        {"cam_move"},
			"cam_move":        {"cam_meta", "cam_static_low"},
			"cam_static_low":  {"cam_move", "cam_static_high"},
			"cam_static_high": {"cam_static_low"},
		},
	}
}

// AmbiguousPersonRequest 拓扑不可达且行程超限的跨机位人物查询，
// 链接应保持显式 unresolved。
func AmbiguousPersonRequest() types.QueryRequest {
	clips := []types.Clip{
		{
			ClipID:          "clip_amb_a",
			CameraID:        "cam_far_a",
			CameraType:      types.CameraStatic,
			Location:        types.LocationInterior,
			DurationSeconds: 30,
			Frames: buildFrames(30, 0.2,
				map[int][]string{5: {"person_px"}, 6: {"person_px"}},
				map[int][]string{6: {"person_moves"}}),
		},
		{
			ClipID:          "clip_amb_b",
			CameraID:        "cam_far_b",
			CameraType:      types.CameraStatic,
			Location:        types.LocationInterior,
			DurationSeconds: 420,
			Frames: buildFrames(420, 0.2,
				map[int][]string{400: {"person_px"}, 401: {"person_px"}},
				map[int][]string{401: {"person_moves"}}),
		},
	}

	return types.QueryRequest{
		QueryID:   "query_ambiguous_person",
		QueryText: "Track this person across cameras",
		Clips:     clips,
		CameraTopology: types.CameraTopology{
			"cam_far_a": {},
			"cam_far_b": {},
		},
	}
}
