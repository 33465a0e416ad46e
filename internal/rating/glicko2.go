package rating

import "math"

const (
	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.06
	DefaultTau        = 0.5

	glickoScale      = 173.7178
	convergenceEps   = 0.000001
	maxVolatilityItr = 100
)

// Player is a Glicko-2 rating on the public (1500-centred) scale.
type Player struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

func NewPlayer() Player {
	return Player{Rating: DefaultRating, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

// Game is one result against an opponent rated at period start. Score is
// 1 for a win, 0.5 for a draw and 0 for a loss.
type Game struct {
	Opponent Player
	Score    float64
}

// Update rates p over one period. With no games only the deviation grows.
func Update(p Player, games []Game, tau float64) Player {
	if tau <= 0 {
		tau = DefaultTau
	}
	mu := (p.Rating - DefaultRating) / glickoScale
	phi := p.Deviation / glickoScale
	sigma := p.Volatility

	if len(games) == 0 {
		phiStar := math.Sqrt(phi*phi + sigma*sigma)
		return Player{Rating: p.Rating, Deviation: phiStar * glickoScale, Volatility: sigma}
	}

	var vInv, deltaSum float64
	for _, g := range games {
		muJ := (g.Opponent.Rating - DefaultRating) / glickoScale
		phiJ := g.Opponent.Deviation / glickoScale
		gj := gPhi(phiJ)
		e := expected(mu, muJ, gj)
		vInv += gj * gj * e * (1 - e)
		deltaSum += gj * (g.Score - e)
	}
	v := 1 / vInv
	delta := v * deltaSum

	sigmaNew := newVolatility(phi, sigma, v, delta, tau)
	phiStar := math.Sqrt(phi*phi + sigmaNew*sigmaNew)
	phiNew := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muNew := mu + phiNew*phiNew*deltaSum

	return Player{
		Rating:     muNew*glickoScale + DefaultRating,
		Deviation:  phiNew * glickoScale,
		Volatility: sigmaNew,
	}
}

func gPhi(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, gj float64) float64 {
	return 1 / (1 + math.Exp(-gj*(mu-muJ)))
}

// newVolatility solves for the new volatility with the Illinois variant of
// regula falsi.
func newVolatility(phi, sigma, v, delta, tau float64) float64 {
	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * math.Pow(phi*phi+v+ex, 2)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA, fB := f(A), f(B)
	for i := 0; math.Abs(B-A) > convergenceEps && i < maxVolatilityItr; i++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2)
}
