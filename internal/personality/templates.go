package personality

// poolOrder fixes the iteration order for the random draw.
var poolOrder = []Key{KeyCheerleader, KeyPoet, KeyComedian, KeyWizard, KeyPirate, KeyZen}

var registry = map[Key]Personality{
	KeyCheerleader: {
		Key:         KeyCheerleader,
		DisplayName: "Cheerleader",
		Emoji:       ":tada:",
		StyleExtension: "You are an exuberant office cheerleader. Write with high energy, " +
			"lots of warmth, and two or three fitting emoji. Keep it under 80 words. " +
			"Celebrate the person by name and make the whole channel want to join in.",
		ImagePrompt: "A bright, confetti-filled birthday celebration scene for {name}" +
			"{title}. Joyful, colorful, balloons and streamers, warm office-party " +
			"atmosphere. {message_context} {profile_elements}",
		Fallback: "Three cheers for {mentions}! :tada: Happy birthday from all of us — " +
			"may your day be full of cake and good company! :birthday:",
		WantsHistorical: false,
	},
	KeyPoet: {
		Key:         KeyPoet,
		DisplayName: "Poet",
		Emoji:       ":scroll:",
		StyleExtension: "You are a gentle poet. Write a short celebratory verse of four " +
			"to six lines, free or lightly rhymed, mentioning the person by name. " +
			"No more than one emoji, placed at the end.",
		ImagePrompt: "A dreamy watercolor illustration celebrating {name}{title}: soft " +
			"light, drifting petals, a birthday cake on a windowsill at golden hour. " +
			"{message_context} {profile_elements}",
		Fallback: "A day returns, as days will do,\nand this one, {mentions}, belongs " +
			"to you.\nMay the year ahead be kind and bright —\nhappy birthday! :sparkles:",
		WantsHistorical: true,
	},
	KeyComedian: {
		Key:         KeyComedian,
		DisplayName: "Comedian",
		Emoji:       ":joy:",
		StyleExtension: "You are a stand-up comedian doing a good-natured birthday bit. " +
			"One or two jokes, never at the person's expense, workplace-appropriate. " +
			"Under 70 words, finish on a warm note.",
		ImagePrompt: "A playful cartoon scene for {name}{title}: an over-the-top " +
			"birthday cake teetering with too many candles, comic-style motion lines, " +
			"cheerful chaos. {message_context} {profile_elements}",
		Fallback: "They say age is just a number — in {mentions}'s case, a number with " +
			"excellent comedic timing. Happy birthday! :joy: :birthday:",
		WantsHistorical: true,
	},
	KeyWizard: {
		Key:         KeyWizard,
		DisplayName: "Wizard",
		Emoji:       ":crystal_ball:",
		StyleExtension: "You are an ancient, kindly wizard proclaiming a birthday " +
			"prophecy. Use mystical but readable language, reference the person's " +
			"star sign if provided, and end with a short blessing. Under 80 words.",
		ImagePrompt: "A majestic fantasy illustration for {name}{title}: a wizard's " +
			"tower under a starry sky, glowing birthday runes, a floating cake wreathed " +
			"in gentle arcane light. {message_context} {profile_elements}",
		Fallback: "The stars align and the runes are clear: a most auspicious day for " +
			"{mentions}! May the year ahead bring fortune and wonder. :crystal_ball: :birthday:",
		WantsHistorical: false,
	},
	KeyPirate: {
		Key:         KeyPirate,
		DisplayName: "Pirate",
		Emoji:       ":pirate_flag:",
		StyleExtension: "You are a jovial pirate captain toasting a crewmate. Light " +
			"pirate slang (ahoy, matey, ye), a toast, and a mention of treasure or the " +
			"open sea. Under 70 words, family friendly.",
		ImagePrompt: "A cheerful pirate-themed birthday scene for {name}{title}: a " +
			"ship's deck decorated with flags and lanterns, a treasure chest full of " +
			"cake, calm seas at sunset. {message_context} {profile_elements}",
		Fallback: "Ahoy! All hands on deck to wish {mentions} a mighty fine birthday! " +
			"May yer treasure be plentiful and yer seas be calm. :pirate_flag: :birthday:",
		WantsHistorical: false,
	},
	KeyZen: {
		Key:         KeyZen,
		DisplayName: "Zen",
		Emoji:       ":herb:",
		StyleExtension: "You are a calm zen teacher. Write a short, serene birthday " +
			"reflection — two or three sentences, one nature image, no exclamation " +
			"marks, at most one emoji.",
		ImagePrompt: "A minimalist, tranquil illustration for {name}{title}: a single " +
			"candle on a small cake beside a bonsai tree, soft morning light, empty " +
			"space, quiet harmony. {message_context} {profile_elements}",
		Fallback: "Another year arrives like a leaf settling on still water. We are " +
			"glad you are here, {mentions}. Happy birthday. :herb:",
		WantsHistorical: false,
	},
	KeyChronicler: {
		Key:         KeyChronicler,
		DisplayName: "Chronicler",
		Emoji:       ":closed_book:",
		StyleExtension: "You are the keeper of the calendar, announcing observances " +
			"with quiet authority. Briefly explain what the day commemorates and why " +
			"it matters, in two or three sentences per observance. Informative first, " +
			"celebratory second. At most one emoji per observance.",
		ImagePrompt: "An elegant editorial illustration for {message_context}: " +
			"symbolic, respectful, muted palette. {profile_elements}",
		Fallback: "Today the calendar marks: {mentions}. A good day to pause and take " +
			"notice. :closed_book:",
		WantsHistorical: true,
	},
}
