package api

// setupRoutes configures all API routes. Everything is GET on purpose:
// the engine is driven by its own cycle loop, not by HTTP callers.
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleGetStatus)
		v1.GET("/fsm", s.handleGetFSM)
		v1.GET("/fsm/transitions", s.handleGetTransitions)

		state := v1.Group("/state")
		{
			state.GET("/regime", s.handleGetRegime)
			state.GET("/exposure", s.handleGetExposure)
			state.GET("/cognitive", s.handleGetCognitive)
			state.GET("/opportunities", s.handleGetOpportunities)
		}

		v1.GET("/gate", s.handleGetGate)
		v1.GET("/positions", s.handleGetPositions)
		v1.GET("/trades", s.handleGetTrades)
		v1.GET("/signals/recent", s.handleGetRecentSignals)
	}

	s.router.GET("/", s.handleRoot)
}
