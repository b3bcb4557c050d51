package workflow

func sampleTemplate() Document {
	return Document{
		"last_node_id": float64(80),
		"nodes": []interface{}{
			map[string]interface{}{
				"id":   float64(9),
				"type": "SaveImage",
				"widgets_values": []interface{}{
					"ComfyUI",
				},
			},
			map[string]interface{}{
				"id":   float64(76),
				"type": "a4e1c2f0-subgraph",
				"widgets_values": []interface{}{
					"a lighthouse at dusk",
					float64(1024),
					float64(1024),
					float64(4),
					float64(1),
					float64(42),
					"fixed",
					"flux1-schnell.safetensors",
					"t5xxl_fp8.safetensors",
					"ae.safetensors",
				},
			},
		},
	}
}

func widgets(t interface{ Fatalf(string, ...interface{}) }, doc Document) []interface{} {
	node, ok := doc.FindNode(DefaultNodeID)
	if !ok {
		t.Fatalf("node %s missing", DefaultNodeID)
	}
	return node["widgets_values"].([]interface{})
}
