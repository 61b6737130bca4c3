package urcell

import "github.com/benchcell/urcell/urscript"

// Deck positions for the cell-assembly workcell. Translations are meters
// in the base frame, rotations are rotation vectors in radians. Joint
// values are radians, base to wrist 3.
var (
	// HomeJoints parks the arm clear of every deck fixture.
	// Recorded from the live arm on 2026-06-17.
	HomeJoints = urscript.Joints{
		0.5431541204452515, -1.693524023095602, -0.7301170229911804,
		-2.2898713550963343, 1.567720651626587, -1.0230830351458948,
	}
)

// Tool docks along the back rail. Recorded 2026-06-17.
var (
	PipetteDock = urscript.Pose{
		0.21285670041158733, 0.1548897634390196, 0.005543999069077835,
		3.137978068966478, -0.009313836267512065, -0.0008972976992386885,
	}

	// GripperDock holds the Hand-E finger gripper.
	GripperDock = urscript.Pose{
		0.3131286590368134, 0.15480163498252172, 0.005543999069077835,
		3.137978068966478, -0.009313836267512065, -0.0008972976992386885,
	}

	ScrewdriverDock = urscript.Pose{
		0.43804370307762014, 0.15513117190281586, 0.006677533813616729,
		3.137978068966478, -0.009313836267512065, -0.0008972976992386885,
	}
)

// Pipetting positions. Recorded 2026-06-19.
var (
	// TipRackFirst is the first fresh tip in the rack.
	TipRackFirst = urscript.Pose{
		0.04314792894103472, -0.2860322742006418, 0.2280902599833372,
		3.1380017093793624, -0.00934365687097245, -0.0006742913527073343,
	}

	// SampleSource is the stock vial the sample is aspirated from.
	SampleSource = urscript.Pose{
		0.46141141854542533, -0.060288367363232544, 0.25108778472947074,
		3.1380721475655364, -0.009380578809401673, -0.0005480714914954698,
	}

	// SampleDispense is the assembly well the sample is dispensed into.
	SampleDispense = urscript.Pose{
		0.3171082280819746, -0.2850972337811901, 0.3411125132555506,
		3.1379895509880757, -0.009383853947478633, -0.0007087863735219047,
	}

	TipTrash = urscript.Pose{
		0.2584365150735084, -0.29839447002022784, 0.26381819707970183,
		3.1380107495494363, -0.009257765762271986, -0.0005604922095049701,
	}
)

// Capping positions. Recorded 2026-06-19.
var (
	// VialCap is the cap seated on the stock vial.
	VialCap = urscript.Pose{
		0.46318998963189156, -0.0618242346521575, 0.22044247577669074,
		3.1380871312109466, -0.009283145361593024, -0.0008304449494246685,
	}

	// VialCapHolder is where removed caps are parked.
	VialCapHolder = urscript.Pose{
		0.3496362594442045, -0.19833129786349898, 0.21851956360142491,
		3.1380370691898447, -0.00907338154155439, -0.0006817652068428923,
	}
)

// Screwdriving positions. Recorded 2026-06-24.
var (
	// CellScrewFirst and CellScrewSecond are the two screw holes on the
	// cell lid.
	CellScrewFirst = urscript.Pose{
		0.28742456966563107, -0.2863121497438419, 0.3180272525328063,
		3.1380212198586985, -0.009448362088018303, -0.0006280218794236092,
	}
	CellScrewSecond = urscript.Pose{
		0.28802533355775894, -0.3111315576736609, 0.3180272525328063,
		3.138055908188219, -0.009412952001123928, -0.0007497956393069067,
	}

	// HexKeyHolder is the rack slot for the gripper-held hex bit.
	HexKeyHolder = urscript.Pose{
		0.40061621427107863, -0.19851389684726614, 0.2185475541919895,
		3.1374987322951102, -0.009368331063787221, -0.0007768712432287358,
	}

	// ScrewHolder is the loose-screw feeder for the vacuum screwdriver.
	// STUB: needs re-recording after the feeder was remounted.
	ScrewHolder urscript.Pose
)

// Assembly positions. Recorded 2026-06-24.
var (
	// CellHolder is the fixture the cell body sits in during assembly.
	CellHolder = urscript.Pose{
		0.43785674873555014, -0.1363043381282072, 0.21998506102422555,
		3.1380513355558466, -0.009323037734842953, -0.0006690858747472434,
	}

	// AssemblyDeck is the lateral-grip pose for the assembled cell.
	AssemblyDeck = urscript.Pose{
		0.3174903285108201, -0.08258211007606345, 0.11525282484663647,
		1.2274734115134542, 1.190534780943193, -1.1813375188608897,
	}

	// AssemblyAbove is the staging pose above the assembly deck.
	AssemblyAbove = urscript.Pose{
		0.31914521296697795, -0.2855210106568889, 0.3477093639368639,
		3.1380580674341614, -0.009396149170921641, -0.0006625851593942707,
	}
)
