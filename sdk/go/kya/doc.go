// Package kya is the agent-side client for a kya trust kernel. It
// requests capability tokens, signs canonical action envelopes with the
// agent's Ed25519 key, and submits verify calls.
//
// Usage:
//
//	agent, err := kya.New("http://localhost:8080", kya.Identity{
//	    WorkspaceID: wsID,
//	    AgentID:     agentID,
//	    PrivateKey:  priv,
//	})
//	grant, err := agent.RequestCapability(ctx, kya.CapabilityRequest{
//	    Action:        "purchase",
//	    TargetService: "shop-api",
//	    Scopes:        []string{"purchase"},
//	})
//	decision, err := agent.VerifyAction(ctx, grant, kya.Action{
//	    ActionType:    "purchase",
//	    TargetService: "shop-api",
//	    Payload:       map[string]any{"amount": 18},
//	})
//
// The SDK links directly against the kernel's canonical codec so its
// envelope digests are byte-identical to what the verifier recomputes.
// External users import github.com/kevinmarty69/know-your-agent/sdk/go/kya.
package kya
